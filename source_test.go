package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestDecodeText_UTF8(t *testing.T) {
	got, err := DecodeText("contract.txt", []byte("\xef\xbb\xbfДоговор поставки"))
	require.NoError(t, err)
	assert.Equal(t, "Договор поставки", got)

	got, err = DecodeText("empty.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestDecodeText_Windows1251(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().String("Договор поставки № 5 от 01.02.2024")
	require.NoError(t, err)

	got, err := DecodeText("legacy.txt", []byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, "Договор поставки № 5 от 01.02.2024", got)
}

func TestDecodeText_Unsupported(t *testing.T) {
	zip := append([]byte("PK\x03\x04"), make([]byte, 64)...)
	for name, data := range map[string][]byte{
		"contract.docx": []byte("plain text with a docx name"),
		"archive.bin":   zip,
		"scan.pdf":      []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n"),
		"image.png":     []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeText(name, data)
			assert.ErrorIs(t, err, ErrUnsupportedFormat)
		})
	}
}

func TestSplitSections(t *testing.T) {
	text := "Договор № 1\r\nг. Москва\n1. ПРЕДМЕТ ДОГОВОРА\nПоставщик поставляет товар.\n\n2.1 Цена договора\nЦена 100 руб., НДС\nIV. Сроки\nПРИЛОЖЕНИЯ\nСпецификация"

	got := SplitSections(text)

	assert.Equal(t, []string{
		"Договор № 1\nг. Москва",
		"1. ПРЕДМЕТ ДОГОВОРА\nПоставщик поставляет товар.",
		"2.1 Цена договора\nЦена 100 руб., НДС",
		"IV. Сроки",
		"ПРИЛОЖЕНИЯ\nСпецификация",
	}, got)
}

func TestSplitSections_NoHeadings(t *testing.T) {
	assert.Equal(t, []string{"просто текст"}, SplitSections("  просто текст \n"))
	assert.Empty(t, SplitSections(" \n "))
}
