package contracts

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
)

// Field names of the contract schema used by the rule extractor, the summary
// synthesizer and the warnings.
const (
	FieldTotal        = "Сумма"
	FieldVATAmount    = "СуммаНДС"
	FieldVATRate      = "СтавкаНДС"
	FieldOrganization = "Организация"
	FieldCounterparty = "Контрагент"
	FieldCreatedAt    = "ДатаСоздания"
	FieldCurrency     = "Валюта"
	FieldSummary      = "КраткоеСодержание"
	FieldRationale    = "ОбоснованиеВыбора"
	FieldContent      = "Содержание"
	FieldSubject      = "ОЭЗ_Предмет"
	FieldPayment      = "СпособОплаты"
	FieldCategoryCode = "КодКатегории"
	FieldResponsible  = "Ответственный"
	FieldContractType = "ВидДоговора"
)

// Record maps field names to scalar values. A Record belongs to one pipeline
// run and is never shared between runs.
type Record map[string]any

// Clone returns a shallow copy; values are scalars.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// SetDefault stores v only when key is absent and reports whether it did.
func (r Record) SetDefault(key string, v any) bool {
	if _, ok := r[key]; ok {
		return false
	}
	r[key] = v
	return true
}

// Number reads key as a float. Strings are accepted with a comma decimal
// separator and space or NBSP thousands separators.
func (r Record) Number(key string) (float64, bool) {
	return toFloat(r[key])
}

// Text returns the value of key when it is a string.
func (r Record) Text(key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok
}

// NonEmptyText reports whether key holds a string with non-space content.
func (r Record) NonEmptyText(key string) bool {
	s, ok := r.Text(key)
	return ok && strings.TrimSpace(s) != ""
}

// Plain converts r to the untyped map form expected by JSON tooling.
func (r Record) Plain() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(n, "\u00a0", "")
		s = strings.ReplaceAll(s, " ", "")
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}
