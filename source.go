package contracts

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/encoding/charmap"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// DecodeText turns an uploaded payload into text. Plain text is read as UTF-8
// or, when that is invalid, as Windows-1251. DOCX and other binary formats
// are rejected with ErrUnsupportedFormat.
func DecodeText(name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	mtype := mimetype.Detect(data)
	if strings.EqualFold(filepath.Ext(name), ".docx") || mtype.Is(docxMIME) || descendsFrom(mtype, "application/zip") {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, name, mtype.String())
	}
	switch {
	case descendsFrom(mtype, "text/plain"):
	case mtype.Is("application/octet-stream") && bytes.IndexByte(data, 0) < 0:
		// Legacy single-byte text is not always recognized as text.
	default:
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, name, mtype.String())
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s as windows-1251: %w", name, err)
	}
	return string(out), nil
}

func descendsFrom(m *mimetype.MIME, parent string) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(parent) {
			return true
		}
	}
	return false
}

var numberedHeading = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?|[IVXLC]+\.)\s+\p{Lu}`)

// SplitSections splits a document at heading lines: numbered headings such as
// "1. ПРЕДМЕТ ДОГОВОРА" or "2.1 Цена", and lines written in capitals. Text
// before the first heading is a section of its own. Empty sections are
// dropped.
func SplitSections(text string) []string {
	var (
		sections []string
		current  strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sections = append(sections, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if isHeading(strings.TrimSpace(line)) {
			flush()
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return sections
}

func isHeading(line string) bool {
	if line == "" || utf8.RuneCountInString(line) > 120 {
		return false
	}
	if numberedHeading.MatchString(line) {
		return true
	}
	letters := 0
	for _, r := range line {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters >= 4
}
