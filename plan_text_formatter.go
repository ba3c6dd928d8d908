package contracts

import (
	"fmt"
	"strings"
)

// formatAsText formats the plan as an ASCII tree.
func formatAsText(plan *PlanNode) string {
	var sb strings.Builder
	sb.WriteString("Extraction Plan (estimated costs)\n")
	formatNodeAsText(plan, "", true, &sb)
	return sb.String()
}

// formatNodeAsText recursively formats a node and its children as text.
func formatNodeAsText(node *PlanNode, prefix string, isLast bool, sb *strings.Builder) {
	connector := "├─ "
	if isLast {
		connector = "└─ "
	}
	if prefix == "" {
		connector = ""
	}
	fmt.Fprintf(sb, "%s%s%s\n", prefix, connector, formatNodeInfo(node))

	childPrefix := prefix
	switch {
	case prefix == "":
		// First level children get "  " as prefix to properly indent them
		childPrefix = "  "
	case isLast:
		childPrefix += "   "
	default:
		childPrefix += "│  "
	}
	for i, child := range node.Children {
		formatNodeAsText(child, childPrefix, i == len(node.Children)-1, sb)
	}
}

// formatNodeInfo formats information for a single node.
func formatNodeInfo(node *PlanNode) string {
	parts := []string{string(node.Type)}
	if node.Group != "" {
		parts = append(parts, fmt.Sprintf(`"%s"`, node.Group))
	}

	var details []string
	if node.Model != "" {
		details = append(details, fmt.Sprintf("model=%s", node.Model))
	}
	if node.Slice != "" {
		details = append(details, fmt.Sprintf("slice=%s", node.Slice))
	}
	details = append(details, fmt.Sprintf("cost=%.1f", node.EstCost))

	if node.InputTokens > 0 || node.OutputTokens > 0 {
		if node.OutputTokens > 0 {
			details = append(details, fmt.Sprintf("tokens(in=%d,out=%d)", node.InputTokens, node.OutputTokens))
		} else {
			details = append(details, fmt.Sprintf("tokens(in=%d)", node.InputTokens))
		}
	}

	switch len(node.Fields) {
	case 0:
	case 1:
		details = append(details, fmt.Sprintf("field=%s", node.Fields[0]))
	default:
		details = append(details, fmt.Sprintf("fields=%v", node.Fields))
	}

	if node.ActCost != nil {
		details = append(details, fmt.Sprintf("$%.6f", *node.ActCost))
	}

	parts = append(parts, fmt.Sprintf("(%s)", strings.Join(details, ", ")))
	return strings.Join(parts, " ")
}
