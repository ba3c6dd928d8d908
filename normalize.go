package contracts

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// keptSymbols are the punctuation characters that survive normalization.
const keptSymbols = `.,:;!?()/%«»"'№-–—`

var noiseFilter = runes.Map(func(r rune) rune {
	switch {
	case r == '\u00a0':
		return ' '
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), r == '_', unicode.IsSpace(r):
		return r
	case strings.ContainsRune(keptSymbols, r):
		return r
	}
	return ' '
})

// NormalizeText composes the text to NFC, replaces symbols outside the kept
// set with spaces, turns tab/CR/LF runs into one space, collapses repeated
// spaces and trims.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	cleaned, _, err := transform.String(transform.Chain(norm.NFC, noiseFilter), text)
	if err != nil {
		cleaned = text
	}

	var b strings.Builder
	b.Grow(len(cleaned))
	space := false
	for _, r := range cleaned {
		if r == '\t' || r == '\r' || r == '\n' {
			r = ' '
		}
		if r == ' ' {
			if space {
				continue
			}
			space = true
		} else {
			space = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// collapseSpaces joins the whitespace-separated words of s with single spaces.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var numberPattern = regexp.MustCompile(`[0-9]+(?:[\s\x{00A0}]?[0-9]{3})*(?:[.,][0-9]+)?`)

// extractNumber parses the first number in s. Spaces group thousands and a
// comma may be the decimal separator.
func extractNumber(s string) (float64, bool) {
	s = strings.NewReplacer("\u00a0", "", "\u2009", "").Replace(s)
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	m = strings.ReplaceAll(m, " ", "")
	m = strings.ReplaceAll(m, ",", ".")
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
