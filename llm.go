package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// maxDocumentChars bounds the document text embedded in one prompt.
const maxDocumentChars = 100_000

// Recovery stages reported in CallTrace.Recovery.
const (
	RecoveryStrict   = "strict"
	RecoveryFenced   = "fenced"
	RecoveryBalanced = "balanced"
	RecoveryGreedy   = "greedy"
	RecoveryNone     = "none"
)

// CallTrace records one model call for diagnostics.
type CallTrace struct {
	Group    string        `json:"group,omitempty"`
	Fields   []string      `json:"fields,omitempty"`
	Slice    DocumentSlice `json:"slice"`
	Prompt   string        `json:"-"`
	Raw      string        `json:"raw"`
	Recovery string        `json:"recovery"`
	Duration time.Duration `json:"duration"`
}

// LLMExtractor turns a document into field values with one chat call. Values
// already present in the partial record always win over the model's output.
type LLMExtractor struct {
	client      ChatClient
	prompts     PromptProvider
	schema      *Schema
	guidelines  string
	temperature float64
	maxTokens   int
	log         *slog.Logger
	metrics     *Metrics
}

type LLMOption func(*LLMExtractor)

// WithGenerationParams sets the temperature and output token budget.
func WithGenerationParams(temperature float64, maxTokens int) LLMOption {
	return func(x *LLMExtractor) {
		x.temperature = temperature
		x.maxTokens = maxTokens
	}
}

// WithDefaultGuidelines sets the guideline text used when a call passes none.
func WithDefaultGuidelines(text string) LLMOption {
	return func(x *LLMExtractor) { x.guidelines = text }
}

func WithLLMLogger(log *slog.Logger) LLMOption {
	return func(x *LLMExtractor) {
		if log != nil {
			x.log = log
		}
	}
}

func WithLLMMetrics(m *Metrics) LLMOption {
	return func(x *LLMExtractor) { x.metrics = m }
}

func NewLLMExtractor(client ChatClient, prompts PromptProvider, schema *Schema, opts ...LLMOption) *LLMExtractor {
	x := &LLMExtractor{
		client:      client,
		prompts:     prompts,
		schema:      schema,
		temperature: 0.1,
		maxTokens:   1024,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// ExtractOption adjusts a single Extract call.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	schema     *Schema
	guidelines *string
}

// WithSchemaOverride replaces the extractor's schema for one call.
func WithSchemaOverride(s *Schema) ExtractOption {
	return func(c *extractConfig) { c.schema = s }
}

// WithGuidelines replaces the guideline text for one call, even when empty.
func WithGuidelines(text string) ExtractOption {
	return func(c *extractConfig) { c.guidelines = &text }
}

// Extract renders the prompt, calls the model and merges its answer under
// partial. Inference failures are returned wrapping ErrInferenceUnavailable;
// an unparsable answer contributes nothing.
func (x *LLMExtractor) Extract(ctx context.Context, text string, partial Record, opts ...ExtractOption) (Record, CallTrace, error) {
	var cfg extractConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	schema := x.schema
	if cfg.schema != nil {
		schema = cfg.schema
	}
	guidelines := x.guidelines
	if cfg.guidelines != nil {
		guidelines = *cfg.guidelines
	}

	var trace CallTrace
	user, err := x.renderUserPrompt(schema, truncateRunes(text, maxDocumentChars), guidelines)
	if err != nil {
		return nil, trace, err
	}
	system, err := x.prompts.Render(TemplateSystem, nil)
	if err != nil {
		return nil, trace, fmt.Errorf("render system prompt: %w", err)
	}
	trace.Prompt = collapseSpaces(user)

	start := time.Now()
	raw, err := x.client.Chat(ctx, ChatRequest{
		System:      system,
		User:        user,
		Temperature: x.temperature,
		MaxTokens:   x.maxTokens,
	})
	trace.Duration = time.Since(start)
	x.metrics.observeCall(trace.Duration, err)
	if err != nil {
		if !errors.Is(err, ErrInferenceUnavailable) {
			err = &InferenceError{Backend: "client", Op: "chat", Err: err}
		}
		return nil, trace, err
	}
	trace.Raw = raw

	parsed, stage := ParseModelObject(raw)
	trace.Recovery = stage
	if stage != RecoveryStrict {
		x.metrics.observeRecovery(stage)
		x.log.Debug("model output recovered", "stage", stage, "keys", len(parsed))
	}

	merged := Record(parsed)
	for k, v := range partial {
		merged[k] = v
	}
	return merged, trace, nil
}

func (x *LLMExtractor) renderUserPrompt(schema *Schema, text, guidelines string) (string, error) {
	schemaJSON, err := schema.Canonical()
	if err != nil {
		return "", fmt.Errorf("serialize schema: %w", err)
	}
	skeleton, err := schema.Skeleton()
	if err != nil {
		return "", fmt.Errorf("build skeleton: %w", err)
	}
	user, err := x.prompts.Render(TemplateUser, map[string]any{
		"document_text":    text,
		"json_schema":      schemaJSON,
		"json_skeleton":    skeleton,
		"field_guidelines": guidelines,
	})
	if err != nil {
		return "", fmt.Errorf("render user prompt: %w", err)
	}
	return user, nil
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// ParseModelObject extracts a JSON object from free-form model output. It
// tries, in order: the whole text, the text without code fences, the first
// balanced top-level object, and the span from the first "{" to the last "}".
// Valid JSON that is not an object, and text with no recoverable object, give
// an empty map.
func ParseModelObject(raw string) (map[string]any, string) {
	trimmed := strings.TrimSpace(raw)
	if obj, valid := decodeObject(trimmed); valid {
		return obj, RecoveryStrict
	}
	if fenced := string(SanitizeJSONResponse([]byte(trimmed))); fenced != trimmed {
		if obj, valid := decodeObject(fenced); valid {
			return obj, RecoveryFenced
		}
	}
	if obj, ok := firstBalancedObject(trimmed); ok {
		return obj, RecoveryBalanced
	}
	if i, j := strings.IndexByte(trimmed, '{'), strings.LastIndexByte(trimmed, '}'); i >= 0 && j > i {
		if obj, valid := decodeObject(trimmed[i : j+1]); valid {
			return obj, RecoveryGreedy
		}
	}
	return map[string]any{}, RecoveryNone
}

// decodeObject reports valid for any well-formed JSON value; non-objects come
// back as an empty map.
func decodeObject(s string) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}, true
	}
	return obj, true
}

const maxBalancedCandidates = 64

// firstBalancedObject scans for the first "{...}" span whose braces balance
// outside string literals and which decodes as an object.
func firstBalancedObject(s string) (map[string]any, bool) {
	pos := 0
	for range maxBalancedCandidates {
		i := strings.IndexByte(s[pos:], '{')
		if i < 0 {
			return nil, false
		}
		start := pos + i
		if end, ok := matchBrace(s, start); ok {
			var obj map[string]any
			if err := json.Unmarshal([]byte(s[start:end]), &obj); err == nil && obj != nil {
				return obj, true
			}
		}
		pos = start + 1
	}
	return nil, false
}

// matchBrace returns the index just past the brace closing s[start].
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// SanitizeJSONResponse removes garbage characters often produced by LLMs.
func SanitizeJSONResponse(b []byte) []byte {
	s := strings.TrimSpace(string(b))
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}
