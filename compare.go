package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

// ComparisonRow is one field of a gold-record comparison.
type ComparisonRow struct {
	Field     string `json:"field"`
	Expected  any    `json:"expected"`
	Predicted any    `json:"predicted"`
	Match     bool   `json:"match"`
	Note      string `json:"note,omitempty"`
}

// ComparisonSummary aggregates a comparison.
type ComparisonSummary struct {
	TotalFields      int     `json:"total_fields"`
	Matches          int     `json:"matches"`
	Mismatches       int     `json:"mismatches"`
	NumericTolerance float64 `json:"numeric_tolerance"`
}

// CompareRecords checks predicted against every key of expected, in the
// order of keys or, when none are given, in sorted key order. Two numbers
// match within tolerance; anything else matches when the texts are equal
// after quote and space normalization.
func CompareRecords(expected, predicted Record, tolerance float64, keys ...string) ([]ComparisonRow, ComparisonSummary) {
	if len(keys) == 0 {
		keys = slices.Sorted(maps.Keys(expected))
	}
	summary := ComparisonSummary{NumericTolerance: tolerance}
	rows := make([]ComparisonRow, 0, len(keys))
	for _, key := range keys {
		e, p := expected[key], predicted[key]
		row := ComparisonRow{Field: key, Expected: e, Predicted: p}

		en, eNum := numericValue(e)
		pn, pNum := numericValue(p)
		if eNum && pNum {
			diff := math.Abs(en - pn)
			row.Match = diff <= tolerance
			if !row.Match {
				row.Note = fmt.Sprintf("Δ=%.4f", diff)
			}
		} else {
			row.Match = comparableText(e) == comparableText(p)
		}

		summary.TotalFields++
		if row.Match {
			summary.Matches++
		} else {
			summary.Mismatches++
		}
		rows = append(rows, row)
	}
	return rows, summary
}

// numericValue accepts JSON numbers only; numeric-looking strings are text.
func numericValue(v any) (float64, bool) {
	switch v.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return toFloat(v)
	}
	return 0, false
}

var quoteFolder = strings.NewReplacer(
	"\u00a0", " ",
	"“", `"`,
	"”", `"`,
	"«", `"`,
	"»", `"`,
)

func comparableText(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		s = "null"
	case string:
		s = t
	case float64:
		s = decimalString(t)
	default:
		s = fmt.Sprint(t)
	}
	return quoteFolder.Replace(strings.TrimSpace(s))
}

// DecodeGold parses a reference record and returns its keys in document
// order.
func DecodeGold(data []byte) (Record, []string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	keys, _, err := orderedMembers(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode gold record: %w", err)
	}
	// Numbers keep their literal form so that 100 and 100.0 print as written.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, nil, fmt.Errorf("decode gold record: %w", err)
	}
	if rec == nil {
		return nil, nil, errors.New("decode gold record: not an object")
	}
	return rec, keys, nil
}
