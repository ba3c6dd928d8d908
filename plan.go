package contracts

import (
	"fmt"
	"slices"
)

// PlanNodeType defines the type of operation a node represents.
type PlanNodeType string

const (
	PipelineType       PlanNodeType = "Pipeline"
	NormalizeType      PlanNodeType = "Normalize"
	SummaryCallType    PlanNodeType = "SummaryCall"
	RuleExtractionType PlanNodeType = "RuleExtraction"
	ModelCallType      PlanNodeType = "ModelCall"
	MergeType          PlanNodeType = "Merge"
	ValidateType       PlanNodeType = "Validate"
	SummarizeType      PlanNodeType = "Summarize"
)

// PlanNode is one step of a dry-run execution plan.
type PlanNode struct {
	Type         PlanNodeType `json:"type"`
	Group        string       `json:"group,omitempty"`
	Model        string       `json:"model,omitempty"`
	Fields       []string     `json:"fields,omitempty"`
	Slice        string       `json:"slice,omitempty"`
	InputTokens  int          `json:"inputTokens,omitempty"`
	OutputTokens int          `json:"outputTokens,omitempty"`
	EstCost      float64      `json:"estCost"`            // abstract units, children included
	ActCost      *float64     `json:"actCost,omitempty"`  // USD, when pricing is known
	Children     []*PlanNode  `json:"children,omitempty"` // in execution order
	// Summary information (populated for root nodes)
	ExpectedModels     []string       `json:"expectedModels,omitempty"`
	ExpectedCallCounts map[string]int `json:"expectedCallCounts,omitempty"`
}

// ModelPrice represents the pricing for a specific model.
type ModelPrice struct {
	PromptTokCost     float64 // Cost per 1000 input tokens
	CompletionTokCost float64 // Cost per 1000 output tokens
}

// FormatType represents different output formats for the execution plan.
type FormatType string

const (
	FormatText FormatType = "text"
	FormatJSON FormatType = "json"
)

// Explain builds the execution plan of Run for text without calling the
// model. Token counts are estimated from the prompts Run would send; an empty
// text estimates the prompt overhead alone.
func (p *Pipeline) Explain(text string) (*PlanNode, error) {
	return p.explain(text, nil)
}

// ExplainWithCosts is Explain with USD estimates for models found in pricing.
func (p *Pipeline) ExplainWithCosts(text string, pricing map[string]ModelPrice) (*PlanNode, error) {
	if pricing == nil {
		return nil, fmt.Errorf("pricing information is required for cost calculations")
	}
	return p.explain(text, pricing)
}

func (p *Pipeline) explain(text string, pricing map[string]ModelPrice) (*PlanNode, error) {
	normalized := NormalizeText(text)
	root := &PlanNode{
		Type:   PipelineType,
		Fields: slices.Collect(p.settings.EnabledFields()),
	}
	root.Children = append(root.Children, &PlanNode{
		Type:        NormalizeType,
		InputTokens: EstimateTokensFromText(text),
	})

	renderer := p.llm
	if renderer == nil {
		renderer = NewLLMExtractor(nil, p.prompts, p.schema, WithGenerationParams(p.temperature, p.maxTokens))
	}

	if p.summaryPass && p.llm != nil {
		skeleton, err := auxiliarySchema.Skeleton()
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, &PlanNode{
			Type:         SummaryCallType,
			Model:        p.model,
			Fields:       auxiliarySchema.PropertyNames(),
			Slice:        FullSlice().String(),
			InputTokens:  EstimateTokensFromText(truncateRunes(normalized, maxDocumentChars)) + EstimateTokensFromText(skeleton)*2,
			OutputTokens: p.estimateOutputTokens(auxiliarySchema),
		})
	}

	root.Children = append(root.Children, &PlanNode{
		Type:   RuleExtractionType,
		Fields: slices.Collect(p.settings.fieldsWhere(func(m Method) bool { return m == MethodRule })),
	})

	if p.ModelExtraction() {
		merge := &PlanNode{Type: MergeType}
		for _, g := range p.settings.BuildLLMGroups() {
			subset := p.settings.BuildSchemaSubset(p.schema, g.Fields)
			user, err := renderer.renderUserPrompt(subset,
				truncateRunes(g.Slice.Extract(normalized), maxDocumentChars),
				p.settings.BuildGuidelinesBundle(g.Fields))
			if err != nil {
				return nil, fmt.Errorf("plan group %s: %w", g.Name, err)
			}
			root.Children = append(root.Children, &PlanNode{
				Type:         ModelCallType,
				Group:        g.Name,
				Model:        p.model,
				Fields:       g.Fields,
				Slice:        g.Slice.String(),
				InputTokens:  EstimateTokensFromText(user),
				OutputTokens: p.estimateOutputTokens(subset),
			})
			merge.Fields = append(merge.Fields, g.Fields...)
		}
		root.Children = append(root.Children, merge)
	}

	root.Children = append(root.Children,
		&PlanNode{Type: ValidateType, Fields: p.enabled.PropertyNames()},
		&PlanNode{Type: SummarizeType, Fields: []string{FieldSummary, FieldRationale}},
	)

	calculateCosts(root, pricing)
	populateSummaryInfo(root)
	return root, nil
}

// estimateOutputTokens sizes a filled-in skeleton, capped by the token budget.
func (p *Pipeline) estimateOutputTokens(s *Schema) int {
	skeleton, err := s.Skeleton()
	if err != nil {
		return p.maxTokens
	}
	return min(EstimateTokensFromText(skeleton)+10*len(s.PropertyNames()), p.maxTokens)
}

// calculateCosts fills EstCost bottom-up, and ActCost when pricing is given.
func calculateCosts(node *PlanNode, pricing map[string]ModelPrice) {
	childrenCost := 0.0
	for _, child := range node.Children {
		calculateCosts(child, pricing)
		childrenCost += child.EstCost
	}
	node.EstCost = calculateNodeCost(node) + childrenCost

	if pricing != nil {
		if actual := calculateActualCost(node, pricing); actual > 0 {
			node.ActCost = &actual
		}
	}
}

// calculateNodeCost calculates the abstract cost for a single node.
func calculateNodeCost(node *PlanNode) float64 {
	switch node.Type {
	case ModelCallType, SummaryCallType:
		// Base cost plus token-based cost
		return 3.0 + float64(node.InputTokens)*0.01
	case NormalizeType:
		return 0.5 + float64(node.InputTokens)*0.001
	case RuleExtractionType:
		return 1.0 + float64(len(node.Fields))*0.2
	case MergeType:
		return 0.5 + float64(len(node.Fields))*0.1
	case ValidateType:
		return 1.0 + float64(len(node.Fields))*0.1
	case SummarizeType:
		return 0.5
	default:
		return 0
	}
}

func calculateActualCost(node *PlanNode, pricing map[string]ModelPrice) float64 {
	if node.Type != ModelCallType && node.Type != SummaryCallType {
		return 0
	}
	price, ok := pricing[node.Model]
	if !ok {
		return 0
	}
	return float64(node.InputTokens)*price.PromptTokCost/1000.0 +
		float64(node.OutputTokens)*price.CompletionTokCost/1000.0
}

// populateSummaryInfo collects expected models and call counts from the plan tree.
func populateSummaryInfo(root *PlanNode) {
	callCounts := make(map[string]int)
	var models []string
	for _, child := range root.Children {
		if child.Type != ModelCallType && child.Type != SummaryCallType {
			continue
		}
		model := child.Model
		if model == "" {
			model = "default"
		}
		if callCounts[model] == 0 {
			models = append(models, model)
		}
		callCounts[model]++
	}
	if len(models) == 0 {
		return
	}
	root.ExpectedModels = models
	root.ExpectedCallCounts = callCounts
}

// FormatPlan formats a plan according to the specified format.
func FormatPlan(plan *PlanNode, format FormatType) (string, error) {
	switch format {
	case FormatText:
		return formatAsText(plan), nil
	case FormatJSON:
		return formatAsJSON(plan)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// DefaultModelPricing returns input/output token costs (USD per 1K tokens)
// for the hosted backend. Local Ollama models cost nothing.
func DefaultModelPricing() map[string]ModelPrice {
	return map[string]ModelPrice{
		"gemini-2.5-pro":   {PromptTokCost: 0.00125, CompletionTokCost: 0.0100},
		"gemini-2.5-flash": {PromptTokCost: 0.00030, CompletionTokCost: 0.0025},
		"gemini-2.0-flash": {PromptTokCost: 0.00015, CompletionTokCost: 0.0006},
		"gemini-1.5-pro":   {PromptTokCost: 0.00125, CompletionTokCost: 0.0050},
		"gemini-1.5-flash": {PromptTokCost: 0.000075, CompletionTokCost: 0.00030},
	}
}

// EstimateTokensFromText provides a rough token estimate from text length.
func EstimateTokensFromText(text string) int {
	// ~4 bytes per token; Cyrillic letters take two bytes each
	return (len(text) + 3) / 4
}
