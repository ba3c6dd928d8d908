package contracts

import (
	"bytes"
	"encoding/json"
	"strings"
)

// formatAsJSON renders the plan as indented JSON. Field names and slice
// descriptors are written unescaped.
func formatAsJSON(plan *PlanNode) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
