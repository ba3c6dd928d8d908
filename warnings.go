package contracts

import (
	"fmt"
	"math"
	"strconv"
)

// Warning codes.
const WarningVATMismatch = "vat_mismatch"

// vatTolerance is the largest accepted gap between stated and computed VAT.
const vatTolerance = 0.1

// Warning is an advisory, non-fatal finding about an extracted record.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// optFloat is a float that may be absent.
type optFloat struct {
	v  float64
	ok bool
}

func some(v float64) optFloat { return optFloat{v: v, ok: true} }

var none = optFloat{}

// numberOf reads a finite number from the record.
func numberOf(r Record, key string) optFloat {
	v, ok := r.Number(key)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return none
	}
	return some(v)
}

// expectedVAT computes the VAT included in total at rate percent, rounded to
// kopecks. It is absent for a missing or non-positive rate.
func expectedVAT(total, rate optFloat) optFloat {
	if !total.ok || !rate.ok || rate.v <= 0 {
		return none
	}
	return some(math.Round(total.v*rate.v/(100+rate.v)*100) / 100)
}

// CheckVAT reports a mismatch between the stated VAT amount and the amount
// implied by the total and the rate. Missing or unusable values give no
// warning.
func CheckVAT(r Record) (Warning, bool) {
	vat := numberOf(r, FieldVATAmount)
	rate := numberOf(r, FieldVATRate)
	expected := expectedVAT(numberOf(r, FieldTotal), rate)
	if !vat.ok || !expected.ok {
		return Warning{}, false
	}
	if math.Abs(expected.v-vat.v) <= vatTolerance {
		return Warning{}, false
	}
	return Warning{
		Code: WarningVATMismatch,
		Message: fmt.Sprintf("НДС в документе %s, расчётное значение %s при ставке %s%%",
			decimalString(vat.v), decimalString(expected.v), decimalString(rate.v)),
	}, true
}

// DeriveWarnings returns every advisory warning for r.
func DeriveWarnings(r Record) []Warning {
	var out []Warning
	if w, ok := CheckVAT(r); ok {
		out = append(out, w)
	}
	return out
}

// decimalString formats v in its shortest form with at least one decimal.
func decimalString(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	for _, c := range s {
		if c == '.' {
			return s
		}
	}
	return s + ".0"
}
