package contracts

import (
	"fmt"
	"strings"
)

// Method is the extraction method a field is routed to.
type Method int

const (
	MethodLLM Method = iota // default for every field not listed
	MethodRule
	MethodOff
)

// ParseMethod accepts "llm", "rule" and "off" in any case.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "llm", "":
		return MethodLLM, nil
	case "rule", "rules":
		return MethodRule, nil
	case "off":
		return MethodOff, nil
	}
	return MethodLLM, fmt.Errorf("unknown extraction method %q", s)
}

func (m Method) String() string {
	switch m {
	case MethodRule:
		return "rule"
	case MethodOff:
		return "off"
	default:
		return "llm"
	}
}

func (m Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Method) UnmarshalText(b []byte) error {
	parsed, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
