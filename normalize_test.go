package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace runs", "  Договор\t\tпоставки\r\n\n№ 5  ", "Договор поставки № 5"},
		{"nbsp becomes space", "1\u00a0000 руб.", "1 000 руб."},
		{"noise symbols", "ООО «Ромашка» © ™ <>", "ООО «Ромашка»"},
		{"kept punctuation", "Сумма: 100,50 (НДС 20%) / итог!", "Сумма: 100,50 (НДС 20%) / итог!"},
		{"composes to NFC", "Зап\u0438\u0306сь", "Зап\u0439сь"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestNormalizeText_Idempotent(t *testing.T) {
	in := "Договор № 7 от 01.02.2024\n\nООО «Вектор» © 2024 — поставка"
	once := NormalizeText(in)
	assert.Equal(t, once, NormalizeText(once))
}

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1 234 567,89 руб", 1234567.89, true},
		{"сумма 1\u00a0000", 1000, true},
		{"12.5%", 12.5, true},
		{"нет чисел", 0, false},
	}
	for _, tt := range tests {
		got, ok := extractNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}

func TestRecord_Number(t *testing.T) {
	r := Record{
		"f":   118.0,
		"i":   7,
		"n":   json.Number("2.5"),
		"s":   "1\u00a0234,5",
		"bad": "abc",
		"nil": nil,
	}

	for key, want := range map[string]float64{"f": 118, "i": 7, "n": 2.5, "s": 1234.5} {
		got, ok := r.Number(key)
		assert.True(t, ok, key)
		assert.InDelta(t, want, got, 1e-9, key)
	}
	for _, key := range []string{"bad", "nil", "missing"} {
		_, ok := r.Number(key)
		assert.False(t, ok, key)
	}
}

func TestRecord_Helpers(t *testing.T) {
	r := Record{"a": "x", "blank": "  "}

	assert.True(t, r.SetDefault("b", 1))
	assert.False(t, r.SetDefault("a", "y"))
	assert.Equal(t, "x", r["a"])

	assert.True(t, r.NonEmptyText("a"))
	assert.False(t, r.NonEmptyText("blank"))
	assert.False(t, r.NonEmptyText("b"))

	c := r.Clone()
	c["a"] = "changed"
	assert.Equal(t, "x", r["a"])
	assert.Equal(t, Record{}, Record(nil).Clone())
	assert.Len(t, r.Plain(), 3)
}
