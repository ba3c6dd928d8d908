package contracts

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultCurrency is written when no rule or model supplied a currency.
	DefaultCurrency = "RUB"
	createdAtLayout = "2006-01-02T15:04:05"
)

var (
	totalPattern   = regexp.MustCompile(`(?i)(?:итого|сумма\s*договора)\s*[:\-]?\s*([0-9\s\x{00A0}.,]+)`)
	vatPattern     = regexp.MustCompile(`(?i)НДС\s*(?:[:\-]?\s*)?([0-9\s\x{00A0}.,]+)`)
	vatRatePattern = regexp.MustCompile(`(?i)(?:ставка\s*ндс|ндс)\s*[:\-]?\s*\(?(\d{1,2})\s*%?`)
	orgPattern     = regexp.MustCompile(`(?:^|[^\p{L}\p{N}])((?:АО|ООО|ПАО|ЗАО)\s*"[^"]+"|(?:АО|ООО|ПАО|ЗАО)\s+[\p{L}\p{N}_\s"«».-]{3,})`)
)

// RuleExtractor applies a fixed battery of patterns to normalized text. It
// only fills keys that are still absent, so earlier values always win.
type RuleExtractor struct {
	now func() time.Time
}

// NewRuleExtractor returns an extractor that stamps creation dates with the
// current UTC time.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{now: time.Now}
}

// WithClock replaces the time source used for the creation date default.
func (x *RuleExtractor) WithClock(now func() time.Time) *RuleExtractor {
	return &RuleExtractor{now: now}
}

// Extract returns a copy of partial extended with every rule match. It never
// fails; a rule that does not match leaves its field unset.
func (x *RuleExtractor) Extract(text string, partial Record) Record {
	text = NormalizeText(text)
	out := partial.Clone()

	if v, ok := firstAmount(totalPattern, text); ok {
		out.SetDefault(FieldTotal, v)
	}
	if v, ok := firstAmount(vatPattern, text); ok {
		out.SetDefault(FieldVATAmount, v)
	}
	if v, ok := firstRate(text); ok {
		out.SetDefault(FieldVATRate, v)
	}

	names := organizations(text)
	if len(names) > 0 {
		out.SetDefault(FieldOrganization, names[0])
	}
	if !out.Has(FieldCounterparty) {
		primary, _ := out.Text(FieldOrganization)
		for _, n := range names {
			if n != primary {
				out[FieldCounterparty] = n
				break
			}
		}
	}

	now := time.Now
	if x != nil && x.now != nil {
		now = x.now
	}
	out.SetDefault(FieldCreatedAt, now().UTC().Format(createdAtLayout))
	out.SetDefault(FieldCurrency, DefaultCurrency)
	return out
}

// firstAmount returns the first captured amount that is not a percentage.
func firstAmount(re *regexp.Regexp, text string) (float64, bool) {
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		capture := text[loc[2]:loc[3]]
		v, ok := extractNumber(capture)
		if !ok {
			continue
		}
		if percentFollows(text, loc[2], capture) {
			continue
		}
		return v, true
	}
	return 0, false
}

// percentFollows reports whether the number at the start of capture is
// written as a percentage.
func percentFollows(text string, start int, capture string) bool {
	digits := numberPattern.FindStringIndex(capture)
	if digits == nil {
		return false
	}
	rest := strings.TrimLeft(text[start+digits[1]:], " ")
	return strings.HasPrefix(rest, "%")
}

func firstRate(text string) (float64, bool) {
	for _, loc := range vatRatePattern.FindAllStringSubmatchIndex(text, -1) {
		// A third digit means the capture is the start of an amount.
		if r, _ := utf8.DecodeRuneInString(text[loc[3]:]); unicode.IsDigit(r) {
			continue
		}
		// Without the word "ставка" only a percentage counts as a rate.
		explicit := strings.HasPrefix(strings.ToLower(text[loc[0]:loc[1]]), "ставка")
		if !explicit && !strings.HasPrefix(strings.TrimLeft(text[loc[3]:], " "), "%") {
			continue
		}
		v, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		return float64(v), true
	}
	return 0, false
}

func organizations(text string) []string {
	var names []string
	for _, m := range orgPattern.FindAllStringSubmatch(text, -1) {
		if name := strings.TrimSpace(m[1]); name != "" {
			names = append(names, name)
		}
	}
	return names
}
