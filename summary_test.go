package contracts

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func sampleRecord() Record {
	return Record{
		FieldOrganization: `ООО "Ромашка"`,
		FieldCounterparty: `АО "Вектор"`,
		FieldTotal:        120000.0,
		FieldVATAmount:    20000.0,
		FieldVATRate:      20.0,
		FieldContent:      "Поставка ноутбуков и принтеров",
	}
}

func TestBuildShortSummary(t *testing.T) {
	got := BuildShortSummary(sampleRecord(), "")

	assert.Equal(t, "Договор: ООО «Ромашка» ⇄ АО «Вектор». Сумма: 120 000 руб. (в т.ч. НДС 20% — 20 000 руб.) Предмет: приобретение оргтехники.", got)
}

func TestBuildShortSummary_EmptyRecord(t *testing.T) {
	assert.Equal(t, "Предмет: закупка товаров.", BuildShortSummary(Record{}, ""))
}

func TestBuildShortSummary_WithoutVAT(t *testing.T) {
	got := BuildShortSummary(Record{FieldCounterparty: "Иванов (ИНН 123)", FieldVATRate: 0.0}, "")

	assert.Equal(t, "Договор: Иванов. (без НДС) Предмет: закупка товаров.", got)
}

func TestBuildSelectionRationale(t *testing.T) {
	r := sampleRecord()
	r[FieldPayment] = "безналичный  расчёт"

	got := BuildSelectionRationale(r, "")

	assert.Equal(t, "Выбор АО «Вектор» обоснован: цена 120 000 руб.; НДС 20% выделен; оплата — безналичный расчёт; предмет — оргтехники.", got)
	assert.Equal(t, "Выбор поставщика обоснован.", BuildSelectionRationale(Record{}, ""))
}

func TestDetectCategories_KeywordsAndCodes(t *testing.T) {
	r := Record{FieldContent: "Поставка кресел"}

	cats := detectCategories(r, "Код ОКПД2 26.20.11, повторно 31.01")

	assert.Equal(t, []string{"офисной мебели", "оргтехники"}, cats)
	assert.Equal(t, "офисной мебели и оргтехники", joinCategories(cats))
	assert.Equal(t, "a, b и c", joinCategories([]string{"a", "b", "c"}))
}

func TestDetectCategories_CodeNeedsBoundary(t *testing.T) {
	assert.Empty(t, detectCategories(Record{}, "версия 26.20a"))
	assert.Empty(t, detectCategories(Record{}, "номер x26.20"))
}

func TestNormalizePartyName(t *testing.T) {
	tests := []struct {
		in   any
		want string
		ok   bool
	}{
		{`ООО "Ромашка"`, "ООО «Ромашка»", true},
		{`Ромашка ооо`, "ООО «Ромашка»", true},
		{`ПАО «Сбер» (Банк)`, "ПАО «Сбер»", true},
		{`Завод "Север"`, "Завод «Север»", true},
		{"  ", "", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		got, ok := normalizePartyName(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatMoneyAndRate(t *testing.T) {
	assert.Equal(t, "1 234 567,89", formatMoney(1234567.89))
	assert.Equal(t, "120 000", formatMoney(120000))
	assert.Equal(t, "999", formatMoney(999))
	assert.Equal(t, "0,50", formatMoney(0.5))
	assert.Equal(t, "20", formatRate(20))
	assert.Equal(t, "7.5", formatRate(7.5))
}

func TestClampSummaryText(t *testing.T) {
	assert.Equal(t, "", ClampSummaryText("  \n "))
	assert.Equal(t, "коротко и ясно", ClampSummaryText(" коротко\n и   ясно "))

	long := strings.Repeat("слово ", 80)
	got := ClampSummaryText(long)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), MaxSummaryLength)
	assert.True(t, strings.HasSuffix(got, "слово…"), got)

	hard := ClampSummaryText(strings.Repeat("я", 400))
	assert.Equal(t, MaxSummaryLength, utf8.RuneCountInString(hard))
	assert.True(t, strings.HasSuffix(hard, "я…"))
}

func TestSummariesRespectLimit(t *testing.T) {
	r := sampleRecord()
	r[FieldOrganization] = `ООО "` + strings.Repeat("Очень длинное название ", 20) + `"`

	assert.LessOrEqual(t, utf8.RuneCountInString(BuildShortSummary(r, "")), MaxSummaryLength)
	assert.LessOrEqual(t, utf8.RuneCountInString(BuildSelectionRationale(r, strings.Repeat("ноутбук ", 100))), MaxSummaryLength)
}
