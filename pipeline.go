package contracts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaPath is the location of the field schema inside an assets FS.
const SchemaPath = "schema.json"

// PromptsDir holds the *.twig prompt templates inside an assets FS.
const PromptsDir = "prompts"

// Diagnostics explains how a record was produced.
type Diagnostics struct {
	RunID          string      `json:"run_id"`
	DisabledFields []string    `json:"disabled_fields"`
	Calls          []CallTrace `json:"llm_calls,omitempty"`
	SummaryCall    *CallTrace  `json:"summary_call,omitempty"`
	Duration       string      `json:"duration"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	Record      Record            `json:"data"`
	Warnings    []Warning         `json:"warnings"`
	Errors      []ValidationError `json:"validation_errors,omitempty"`
	Diagnostics Diagnostics       `json:"debug"`
	// Prompt concatenates the whitespace-collapsed prompts of every group call.
	Prompt string `json:"-"`
}

// Valid reports whether the record passed schema validation.
func (r *Result) Valid() bool { return len(r.Errors) == 0 }

// Pipeline turns document text into a validated contract record. It combines
// the rule extractor with one model call per field group. A Pipeline is safe
// for concurrent use; every Run owns its record.
type Pipeline struct {
	settings  *FieldSettings
	schema    *Schema
	enabled   *Schema
	validator *Validator
	prompts   PromptProvider
	client    ChatClient
	rules     *RuleExtractor
	llm       *LLMExtractor

	useLLM      bool
	summaryPass bool
	temperature float64
	maxTokens   int
	model       string

	metrics *Metrics
	log     *slog.Logger
}

type PipelineOption func(*Pipeline)

// WithConfig applies the pipeline and generation settings of cfg.
func WithConfig(cfg Config) PipelineOption {
	return func(p *Pipeline) {
		p.useLLM = cfg.Pipeline.UseLLM
		p.summaryPass = cfg.Pipeline.SummaryPass
		p.temperature = cfg.LLM.Temperature
		p.maxTokens = cfg.LLM.MaxTokens
		p.model = cfg.LLM.Model
	}
}

// WithModelExtraction switches the per-group model calls on or off.
func WithModelExtraction(enabled bool) PipelineOption {
	return func(p *Pipeline) { p.useLLM = enabled }
}

// WithSummaryPass enables the dedicated summary call before rule extraction.
func WithSummaryPass(enabled bool) PipelineOption {
	return func(p *Pipeline) { p.summaryPass = enabled }
}

// WithRuleExtractor replaces the rule extractor, e.g. to fix its clock.
func WithRuleExtractor(x *RuleExtractor) PipelineOption {
	return func(p *Pipeline) { p.rules = x }
}

func WithPipelineLogger(log *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

func WithPipelineMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline wires the components. client may be nil when model extraction
// and the summary pass are disabled.
func NewPipeline(settings *FieldSettings, schema *Schema, prompts PromptProvider, client ChatClient, opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{
		settings:    settings,
		schema:      schema,
		prompts:     prompts,
		client:      client,
		rules:       NewRuleExtractor(),
		useLLM:      true,
		temperature: 0.1,
		maxTokens:   1024,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if (p.useLLM || p.summaryPass) && client == nil {
		return nil, &ConfigError{Field: "llm", Err: errors.New("model extraction enabled without a chat client")}
	}

	p.enabled = settings.FilterSchema(schema)
	v, err := NewValidator(p.enabled)
	if err != nil {
		return nil, err
	}
	p.validator = v

	if client != nil {
		p.llm = NewLLMExtractor(client, prompts, schema,
			WithGenerationParams(p.temperature, p.maxTokens),
			WithLLMLogger(p.log),
			WithLLMMetrics(p.metrics),
		)
	}
	return p, nil
}

// LoadPipeline reads the schema, field settings and prompt templates from an
// assets FS laid out like the embedded assets.
func LoadPipeline(fsys fs.FS, client ChatClient, opts ...PipelineOption) (*Pipeline, error) {
	data, err := fs.ReadFile(fsys, SchemaPath)
	if err != nil {
		return nil, &ConfigError{Source: SchemaPath, Err: err}
	}
	schema, err := ParseSchema(data)
	if err != nil {
		return nil, &ConfigError{Source: SchemaPath, Err: err}
	}

	settings, err := LoadFieldSettings(fsys, DefaultSettingsPaths)
	if err != nil {
		return nil, err
	}
	prompts, err := NewStickPromptProvider(WithFS(fsys, PromptsDir))
	if err != nil {
		return nil, &ConfigError{Source: PromptsDir, Err: err}
	}
	for _, tag := range []string{TemplateSystem, TemplateUser} {
		if !prompts.Has(tag) {
			return nil, &ConfigError{Source: PromptsDir, Field: tag, Err: ErrTemplateNotFound}
		}
	}
	return NewPipeline(settings, schema, prompts, client, opts...)
}

// Settings returns the field routing the pipeline runs with.
func (p *Pipeline) Settings() *FieldSettings { return p.settings }

// Schema returns the full field schema.
func (p *Pipeline) Schema() *Schema { return p.schema }

// EnabledSchema returns the schema restricted to enabled fields, which final
// records are validated against.
func (p *Pipeline) EnabledSchema() *Schema { return p.enabled }

func (p *Pipeline) Prompts() PromptProvider { return p.prompts }

func (p *Pipeline) Client() ChatClient { return p.client }

// ModelExtraction reports whether Run calls the model per field group.
func (p *Pipeline) ModelExtraction() bool { return p.useLLM && p.llm != nil }

// Run extracts, validates and summarizes one document. Only inference
// failures during group extraction make Run fail; they unwrap to
// ErrInferenceUnavailable. Blank text gives ErrEmptyDocument.
func (p *Pipeline) Run(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}
	start := time.Now()
	runID := uuid.NewString()
	log := p.log.With("run_id", runID)

	res, err := p.run(ctx, text, runID, log)
	p.metrics.observeRun(time.Since(start), res)
	if err != nil {
		log.Warn("extraction failed", "error", err, "duration", time.Since(start))
		return nil, err
	}
	res.Diagnostics.Duration = time.Since(start).Round(time.Millisecond).String()
	log.Info("extraction finished",
		"fields", len(res.Record),
		"validation_errors", len(res.Errors),
		"warnings", len(res.Warnings),
		"model_calls", len(res.Diagnostics.Calls),
		"duration", time.Since(start))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, text, runID string, log *slog.Logger) (*Result, error) {
	res := &Result{Diagnostics: Diagnostics{
		RunID:          runID,
		DisabledFields: slices.Collect(p.settings.DisabledFields()),
	}}
	if res.Diagnostics.DisabledFields == nil {
		res.Diagnostics.DisabledFields = []string{}
	}

	normalized := NormalizeText(text)
	log.Debug("text normalized", "chars", len(normalized))

	var aux Record
	if p.summaryPass && p.llm != nil {
		var trace *CallTrace
		aux, trace = p.summaryCandidates(ctx, normalized, log)
		res.Diagnostics.SummaryCall = trace
	}

	record := p.rules.Extract(normalized, Record{})
	log.Debug("rules applied", "fields", len(record))

	if p.ModelExtraction() {
		var err error
		record, err = p.extractGroups(ctx, normalized, record, res, log)
		if err != nil {
			return nil, err
		}
	}

	applyAuxiliary(record, aux)

	filtered := p.settings.FilterPayload(record)
	res.Errors = p.validator.Validate(filtered)

	for _, item := range []struct {
		key   string
		build func(Record, string) string
	}{
		{FieldSummary, BuildShortSummary},
		{FieldRationale, BuildSelectionRationale},
	} {
		if !p.settings.IsEnabled(item.key) {
			continue
		}
		text, _ := aux.Text(item.key)
		if text == "" {
			text = item.build(filtered, normalized)
		}
		if text != "" {
			filtered[item.key] = text
		}
	}

	res.Record = filtered
	res.Warnings = DeriveWarnings(filtered)
	if res.Warnings == nil {
		res.Warnings = []Warning{}
	}
	return res, nil
}

// extractGroups runs one model call per field group, strictly in order. A
// group may only overwrite its own fields; values known before the call are
// passed in and win over the model's answer.
func (p *Pipeline) extractGroups(ctx context.Context, text string, seed Record, res *Result, log *slog.Logger) (Record, error) {
	p.settings.RefreshPrompts()
	aggregated := seed.Clone()

	var prompts []string
	for _, g := range p.settings.BuildLLMGroups() {
		local := make(Record, len(g.Fields))
		for _, f := range g.Fields {
			if v, ok := aggregated[f]; ok {
				local[f] = v
			}
		}

		merged, trace, err := p.llm.Extract(ctx, g.Slice.Extract(text), local,
			WithSchemaOverride(p.settings.BuildSchemaSubset(p.schema, g.Fields)),
			WithGuidelines(p.settings.BuildGuidelinesBundle(g.Fields)),
		)
		if err != nil {
			return nil, fmt.Errorf("extract group %s: %w", g.Name, err)
		}
		trace.Group, trace.Fields, trace.Slice = g.Name, g.Fields, g.Slice
		res.Diagnostics.Calls = append(res.Diagnostics.Calls, trace)
		prompts = append(prompts, trace.Prompt)

		for _, f := range g.Fields {
			if v, ok := merged[f]; ok {
				aggregated[f] = v
			}
		}
		log.Debug("group extracted",
			"group", g.Name,
			"fields", g.Fields,
			"recovery", trace.Recovery,
			"duration", trace.Duration)
	}
	res.Prompt = strings.Join(prompts, "\n\n")
	return aggregated, nil
}

// auxiliarySchema is the fixed output shape of the summary call.
var auxiliarySchema = StringSchema(
	FieldSummary,
	FieldRationale,
	FieldCategoryCode,
	FieldResponsible,
	FieldContractType,
	FieldPayment,
)

// summaryCandidates asks the model for summary texts and classification
// hints. Any failure yields no candidates.
func (p *Pipeline) summaryCandidates(ctx context.Context, text string, log *slog.Logger) (Record, *CallTrace) {
	schemaJSON, err := auxiliarySchema.Canonical()
	if err != nil {
		return nil, nil
	}
	skeleton, err := auxiliarySchema.Skeleton()
	if err != nil {
		return nil, nil
	}
	vars := map[string]any{
		"document_text": truncateRunes(text, maxDocumentChars),
		"json_schema":   schemaJSON,
		"json_skeleton": skeleton,
	}
	system, err := p.prompts.Render(TemplateSummarySystem, vars)
	if err != nil {
		log.Warn("summary pass skipped", "error", err)
		return nil, nil
	}
	user, err := p.prompts.Render(TemplateSummary, vars)
	if err != nil {
		log.Warn("summary pass skipped", "error", err)
		return nil, nil
	}

	trace := &CallTrace{Group: "summary", Fields: auxiliarySchema.PropertyNames(), Slice: FullSlice(), Prompt: collapseSpaces(user)}
	start := time.Now()
	raw, err := p.client.Chat(ctx, ChatRequest{System: system, User: user, Temperature: p.temperature, MaxTokens: p.maxTokens})
	trace.Duration = time.Since(start)
	p.metrics.observeCall(trace.Duration, err)
	if err != nil {
		log.Warn("summary pass failed", "error", err)
		return nil, trace
	}
	trace.Raw = raw
	parsed, stage := ParseModelObject(raw)
	trace.Recovery = stage

	out := make(Record)
	for _, key := range auxiliarySchema.PropertyNames() {
		s, ok := parsed[key].(string)
		if !ok {
			continue
		}
		if s = ClampSummaryText(s); s != "" {
			out[key] = s
		}
	}
	return out, trace
}

// applyAuxiliary merges summary-call hints. The category code always wins;
// the other hints only fill empty values.
func applyAuxiliary(r, aux Record) {
	if v, ok := aux[FieldCategoryCode]; ok {
		r[FieldCategoryCode] = v
	}
	for _, key := range []string{FieldResponsible, FieldContractType, FieldPayment} {
		v, ok := aux[key]
		if !ok || r.NonEmptyText(key) {
			continue
		}
		r[key] = v
	}
}
