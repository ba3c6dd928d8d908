package contracts

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxSummaryLength caps both synthesized texts, ellipsis included.
const MaxSummaryLength = 300

const ellipsis = "…"

type categoryKeywords struct {
	label    string // genitive form, read after "приобретение"
	keywords []string
}

var categoryTable = []categoryKeywords{
	{"оргтехники", []string{"оргтех", "ноут", "компьютер", "моноблок", "пк", "сервер", "принтер", "мфу", "сканер", "копир", "плоттер", "монитор", "проектор", "перфоратор"}},
	{"бытовой техники", []string{"холодиль", "морозил", "чайник", "микроволн", "пылесос", "посудомой", "стиральн", "варочн", "плита", "электроплит", "блендер", "кухонн"}},
	{"бытовой электроники", []string{"телевиз", "смарт", "планш", "колонк", "акуст", "наушн", "плеер", "проектор", "камера", "фотоап", "видеокам", "магнитол"}},
	{"офисной мебели", []string{"кресл", "стол", "стул", "шкаф", "гардер", "тумб", "диван", "мебел"}},
	{"строительных материалов", []string{"цемент", "бетон", "кирпич", "арматур", "панел", "гипс", "смесь", "строит", "штукатур", "профил", "плитк"}},
	{"промышленного оборудования", []string{"оборудован", "станок", "насос", "компресс", "агрегат", "конвейер", "установк", "машин", "технол", "генератор"}},
	{"медицинского оборудования", []string{"медиц", "медтех", "рентген", "томограф", "аппарат", "диагност", "хирург", "лаборатор", "стерилиз"}},
	{"транспортных средств", []string{"автомоб", "машин", "самосвал", "трактор", "автобус", "спецтех", "транспорт", "экскаватор", "погрузч", "кроссовер"}},
	{"услуг", []string{"услуг", "работ", "монтаж", "обслужив", "ремонт", "проектир", "аутсорс"}},
	{"программного обеспечения", []string{"программ", "лиценз", "software", "софт", "платформ"}},
}

// okpdCategories maps two-digit OKPD2 classification prefixes to categories.
var okpdCategories = map[string]string{
	"26": "оргтехники",
	"27": "бытовой электроники",
	"28": "промышленного оборудования",
	"29": "транспортных средств",
	"30": "транспортных средств",
	"31": "офисной мебели",
	"32": "медицинского оборудования",
	"33": "услуг",
	"35": "энергии",
	"38": "утилизации",
	"41": "строительных работ",
	"42": "строительных работ",
	"43": "строительных работ",
	"45": "услуг",
	"46": "товаров",
}

var legalForms = []string{
	"ООО", "АО", "ПАО", "ЗАО", "ОАО", "ИП", "АНО", "ГУП", "МУП", "ФГУП",
	"СПАО", "НКО", "ТСЖ", "ПК", "АОЗТ",
}

var (
	okpdPattern      = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(\d{2})\.(\d{2})(?:\.\d{1,2})?`)
	parenthesized    = regexp.MustCompile(`\s*\([^)]*\)`)
	formSuffixName   = regexp.MustCompile(`(?i)^(.+?)\s+(` + strings.Join(legalForms, "|") + `)$`)
	formPrefixedName = regexp.MustCompile(`(?i)^(` + strings.Join(legalForms, "|") + `)\s+(.+)$`)
)

// ClampSummaryText collapses whitespace and caps text at MaxSummaryLength.
func ClampSummaryText(text string) string {
	text = collapseSpaces(text)
	if text == "" {
		return ""
	}
	return trimSummary(text, MaxSummaryLength)
}

// BuildShortSummary describes the parties, the amount and the subject of the
// contract in at most MaxSummaryLength characters.
func BuildShortSummary(r Record, source string) string {
	var parts []string
	for _, line := range []string{partiesLine(r), amountLine(r), subjectLine(r, source)} {
		if line != "" {
			parts = append(parts, line)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return trimSummary(strings.TrimSpace(strings.Join(parts, " ")), MaxSummaryLength)
}

// BuildSelectionRationale justifies the choice of the counterparty by price,
// VAT status, payment method and subject.
func BuildSelectionRationale(r Record, source string) string {
	intro := "Выбор поставщика обоснован:"
	if supplier, ok := normalizePartyName(r[FieldCounterparty]); ok {
		intro = fmt.Sprintf("Выбор %s обоснован:", supplier)
	}

	var reasons []string
	if total, ok := r.Number(FieldTotal); ok {
		reasons = append(reasons, fmt.Sprintf("цена %s руб.", formatMoney(total)))
	}
	if v := vatReason(r); v != "" {
		reasons = append(reasons, v)
	}
	if p := paymentFragment(r[FieldPayment]); p != "" {
		reasons = append(reasons, p)
	}
	if cats := detectCategories(r, source); len(cats) > 0 {
		reasons = append(reasons, "предмет — "+joinCategories(cats))
	}

	if len(reasons) == 0 {
		return trimSummary(strings.TrimRight(intro, ":")+".", MaxSummaryLength)
	}
	return trimSummary(intro+" "+strings.Join(reasons, "; ")+".", MaxSummaryLength)
}

func partiesLine(r Record) string {
	buyer, hasBuyer := normalizePartyName(r[FieldOrganization])
	seller, hasSeller := normalizePartyName(r[FieldCounterparty])
	switch {
	case hasBuyer && hasSeller:
		return fmt.Sprintf("Договор: %s ⇄ %s.", buyer, seller)
	case hasBuyer:
		return fmt.Sprintf("Договор: %s.", buyer)
	case hasSeller:
		return fmt.Sprintf("Договор: %s.", seller)
	}
	return ""
}

func amountLine(r Record) string {
	total, hasTotal := r.Number(FieldTotal)
	vat, hasVAT := r.Number(FieldVATAmount)
	rate, hasRate := r.Number(FieldVATRate)

	var line string
	switch {
	case hasTotal:
		line = fmt.Sprintf("Сумма: %s руб.", formatMoney(total))
	case hasVAT:
		line = fmt.Sprintf("Сумма: %s руб.", formatMoney(vat))
	}

	frag := vatFragment(vat, hasVAT, rate, hasRate)
	switch {
	case frag == "":
		return line
	case line == "":
		return capitalize(frag)
	}
	return line + " " + frag
}

func vatFragment(vat float64, hasVAT bool, rate float64, hasRate bool) string {
	switch {
	case hasRate && rate <= 0:
		return "(без НДС)"
	case hasRate && hasVAT:
		return fmt.Sprintf("(в т.ч. НДС %s%% — %s руб.)", formatRate(rate), formatMoney(vat))
	case hasRate:
		return fmt.Sprintf("(в т.ч. НДС %s%%)", formatRate(rate))
	case hasVAT:
		return fmt.Sprintf("(в т.ч. НДС — %s руб.)", formatMoney(vat))
	}
	return ""
}

func vatReason(r Record) string {
	rate, hasRate := r.Number(FieldVATRate)
	_, hasVAT := r.Number(FieldVATAmount)
	switch {
	case hasRate && rate <= 0:
		return "без НДС"
	case hasRate && hasVAT:
		return fmt.Sprintf("НДС %s%% выделен", formatRate(rate))
	case hasRate:
		return fmt.Sprintf("НДС %s%%", formatRate(rate))
	case hasVAT:
		return "НДС выделен"
	}
	return ""
}

func subjectLine(r Record, source string) string {
	if cats := detectCategories(r, source); len(cats) > 0 {
		return fmt.Sprintf("Предмет: приобретение %s.", joinCategories(cats))
	}
	return "Предмет: закупка товаров."
}

func paymentFragment(v any) string {
	s := scalarText(v)
	if s == "" {
		return ""
	}
	return "оплата — " + s
}

// scalarText renders a record value as collapsed text; empty and zero-like
// values give "".
func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return collapseSpaces(t)
	case bool:
		if !t {
			return ""
		}
	case float64:
		if t == 0 {
			return ""
		}
	}
	return collapseSpaces(fmt.Sprint(v))
}

// detectCategories scans descriptive fields and the source text for keyword
// and OKPD2 prefix matches, in first-seen order without duplicates.
func detectCategories(r Record, source string) []string {
	var parts []string
	for _, key := range []string{FieldContent, FieldSubject} {
		if s, ok := r.Text(key); ok {
			parts = append(parts, s)
		}
	}
	if source != "" {
		parts = append(parts, source)
	}
	combined := strings.ToLower(strings.Join(parts, " \n "))

	var cats []string
	add := func(label string) {
		for _, c := range cats {
			if c == label {
				return
			}
		}
		cats = append(cats, label)
	}
	for _, entry := range categoryTable {
		for _, kw := range entry.keywords {
			if strings.Contains(combined, kw) {
				add(entry.label)
				break
			}
		}
	}
	for _, loc := range okpdPattern.FindAllStringSubmatchIndex(combined, -1) {
		// The code must end at a word boundary, with or without its third part.
		if wordRuneAt(combined, loc[1]) && wordRuneAt(combined, loc[5]) {
			continue
		}
		if label, ok := okpdCategories[combined[loc[2]:loc[3]]]; ok {
			add(label)
		}
	}
	return cats
}

func wordRuneAt(s string, i int) bool {
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// joinCategories joins with commas and "и" before the last item.
func joinCategories(cats []string) string {
	switch len(cats) {
	case 0:
		return ""
	case 1:
		return cats[0]
	}
	return strings.Join(cats[:len(cats)-1], ", ") + " и " + cats[len(cats)-1]
}

// normalizePartyName renders an organization as `FORM «Name»` when a legal
// form abbreviation leads or trails the name.
func normalizePartyName(v any) (string, bool) {
	raw := scalarText(v)
	if raw == "" {
		return "", false
	}
	name := parenthesized.ReplaceAllString(raw, "")
	name = strings.Trim(collapseSpaces(name), ",;")
	if name == "" {
		return "", false
	}

	var form, body string
	if m := formSuffixName.FindStringSubmatch(name); m != nil {
		body, form = m[1], m[2]
	} else if m := formPrefixedName.FindStringSubmatch(name); m != nil {
		form, body = m[1], m[2]
	} else {
		return alternateQuotes(name), true
	}

	form = strings.ToUpper(form)
	body = strings.Trim(body, ` «»"`)
	if body == "" {
		return form, true
	}
	return fmt.Sprintf("%s «%s»", form, stripQuotes(body)), true
}

func stripQuotes(s string) string {
	return collapseSpaces(strings.NewReplacer("«", "", "»", "", `"`, "").Replace(s))
}

// alternateQuotes turns straight double quotes into alternating «».
func alternateQuotes(s string) string {
	var b strings.Builder
	open := true
	for _, r := range s {
		if r != '"' {
			b.WriteRune(r)
			continue
		}
		if open {
			b.WriteString("«")
		} else {
			b.WriteString("»")
		}
		open = !open
	}
	return b.String()
}

// formatMoney rounds to kopecks, drops a zero fraction, groups thousands with
// spaces and uses a decimal comma.
func formatMoney(v float64) string {
	rounded := math.Round((v+1e-8)*100) / 100
	if math.Abs(rounded-math.Round(rounded)) < 0.005 {
		return groupThousands(strconv.FormatFloat(math.Round(rounded), 'f', 0, 64))
	}
	s := strconv.FormatFloat(rounded, 'f', 2, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	return groupThousands(intPart) + "," + frac
}

func groupThousands(digits string) string {
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if len(digits) <= 3 {
		return sign + digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(digits[i : i+3])
	}
	return sign + b.String()
}

func formatRate(v float64) string {
	rounded := math.Round(v*100) / 100
	if math.Abs(rounded-math.Round(rounded)) < 0.005 {
		return strconv.FormatFloat(math.Round(rounded), 'f', 0, 64)
	}
	s := strconv.FormatFloat(rounded, 'f', 2, 64)
	return strings.TrimRight(strings.TrimRight(s, "0"), ".")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// trimSummary caps text at limit characters. Longer text is cut at the last
// space in the second half of the window (or hard-cut), stripped of trailing
// punctuation and ended with an ellipsis.
func trimSummary(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	window := limit - utf8.RuneCountInString(ellipsis)
	cutoff := -1
	for i := window - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			cutoff = i
			break
		}
	}
	if cutoff < window/2 {
		cutoff = window
	}
	return strings.TrimRight(string(runes[:cutoff]), ",.;: ") + ellipsis
}
