package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Section is a named part of a document. Sections produced by SplitSections
// are named part_0, part_1, ...
type Section struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// NameSections labels texts as part_0, part_1, ...
func NameSections(texts []string) []Section {
	out := make([]Section, len(texts))
	for i, t := range texts {
		out[i] = Section{Name: "part_" + strconv.Itoa(i), Text: t}
	}
	return out
}

// SelectSections returns the sections with the given names, in the order
// the names are given. An unknown name is an error.
func SelectSections(all []Section, names []string) ([]Section, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]Section, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}
	out := make([]Section, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown section %q", n)
		}
		out = append(out, s)
	}
	return out, nil
}

// QAResult holds the answers and what was sent to obtain them.
type QAResult struct {
	Answers map[string]string `json:"answers"`
	Prompt  string            `json:"prompt"`
	Raw     string            `json:"raw"`
}

// SectionQA asks the model targeted questions about selected sections.
type SectionQA struct {
	client      ChatClient
	prompts     PromptProvider
	temperature float64
	maxTokens   int
	log         *slog.Logger
}

func NewSectionQA(client ChatClient, prompts PromptProvider, cfg LLMConfig, log *slog.Logger) *SectionQA {
	if log == nil {
		log = slog.Default()
	}
	return &SectionQA{
		client:      client,
		prompts:     prompts,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         log,
	}
}

// Ask answers question from sections. The result has exactly the requested
// keys; answers the model omits or gives as non-strings are empty.
func (q *SectionQA) Ask(ctx context.Context, sections []Section, question string, keys []string) (*QAResult, error) {
	if len(keys) == 0 {
		return nil, errors.New("no answer keys requested")
	}
	jsonSkeleton, err := StringSchema(keys...).Skeleton()
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n%s", s.Name, s.Text)
	}
	vars := map[string]any{
		"sections_text": truncateRunes(b.String(), maxDocumentChars),
		"question":      strings.TrimSpace(question),
		"json_skeleton": jsonSkeleton,
	}
	system, err := q.prompts.Render(TemplateQASystem, vars)
	if err != nil {
		return nil, fmt.Errorf("render qa system prompt: %w", err)
	}
	user, err := q.prompts.Render(TemplateQA, vars)
	if err != nil {
		return nil, fmt.Errorf("render qa prompt: %w", err)
	}

	res := &QAResult{Prompt: collapseSpaces(user), Answers: make(map[string]string, len(keys))}
	raw, err := q.client.Chat(ctx, ChatRequest{System: system, User: user, Temperature: q.temperature, MaxTokens: q.maxTokens})
	if err != nil {
		return nil, err
	}
	res.Raw = raw

	parsed, stage := ParseModelObject(raw)
	q.log.Debug("qa answered", "sections", len(sections), "keys", len(keys), "recovery", stage)
	for _, k := range keys {
		s, _ := parsed[k].(string)
		res.Answers[k] = s
	}
	return res, nil
}
