package contracts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrompts(t *testing.T) *StickPromptProvider {
	t.Helper()
	p, err := NewStickPromptProvider(WithTemplates(map[string]string{
		TemplateSystem: "Отвечай JSON.",
		TemplateUser:   "{{ field_guidelines }}\n---\n{{ json_schema }}\n---\n{{ json_skeleton }}\n---\n{{ document_text }}",
	}))
	require.NoError(t, err)
	return p
}

func TestLLMExtractor_PartialValuesWin(t *testing.T) {
	client := NewFakeChatClient(`{"Сумма": 500, "Содержание": "Поставка", "Валюта": "USD"}`)
	x := NewLLMExtractor(client, testPrompts(t), mustSchema(t, testSchemaJSON), WithGenerationParams(0.3, 256))

	got, trace, err := x.Extract(context.Background(), "текст", Record{FieldTotal: 100.0})
	require.NoError(t, err)

	assert.Equal(t, Record{"Сумма": 100.0, "Содержание": "Поставка", "Валюта": "USD"}, got)
	assert.Equal(t, RecoveryStrict, trace.Recovery)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Отвечай JSON.", reqs[0].System)
	assert.Equal(t, 0.3, reqs[0].Temperature)
	assert.Equal(t, 256, reqs[0].MaxTokens)
	assert.Contains(t, reqs[0].User, `"Сумма": 0.0`)
	assert.True(t, strings.HasSuffix(reqs[0].User, "текст"))
}

func TestLLMExtractor_RecoversWrappedJSON(t *testing.T) {
	client := NewFakeChatClient(`here is the data: {"Сумма": 500} trailing text`)
	x := NewLLMExtractor(client, testPrompts(t), mustSchema(t, testSchemaJSON))

	got, trace, err := x.Extract(context.Background(), "текст", Record{})
	require.NoError(t, err)

	assert.Equal(t, Record{"Сумма": 500.0}, got)
	assert.Equal(t, RecoveryBalanced, trace.Recovery)
	assert.Equal(t, `here is the data: {"Сумма": 500} trailing text`, trace.Raw)
}

func TestLLMExtractor_UnparsableAnswerContributesNothing(t *testing.T) {
	client := NewFakeChatClient("не знаю")
	x := NewLLMExtractor(client, testPrompts(t), mustSchema(t, testSchemaJSON))

	got, trace, err := x.Extract(context.Background(), "текст", Record{FieldCurrency: "RUB"})
	require.NoError(t, err)

	assert.Equal(t, Record{FieldCurrency: "RUB"}, got)
	assert.Equal(t, RecoveryNone, trace.Recovery)
}

func TestLLMExtractor_InferenceFailure(t *testing.T) {
	client := NewFakeChatClient().Fail(errors.New("connection refused"))
	x := NewLLMExtractor(client, testPrompts(t), mustSchema(t, testSchemaJSON))

	_, _, err := x.Extract(context.Background(), "текст", Record{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInferenceUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLLMExtractor_CallOptions(t *testing.T) {
	client := NewFakeChatClient()
	x := NewLLMExtractor(client, testPrompts(t), mustSchema(t, testSchemaJSON), WithDefaultGuidelines("ОБЩИЕ"))

	_, _, err := x.Extract(context.Background(), "a", nil)
	require.NoError(t, err)
	_, _, err = x.Extract(context.Background(), "b", nil,
		WithSchemaOverride(StringSchema("Содержание")),
		WithGuidelines("ЧАСТНЫЕ"))
	require.NoError(t, err)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, strings.HasPrefix(reqs[0].User, "ОБЩИЕ"))
	assert.Contains(t, reqs[0].User, "Организация")

	assert.True(t, strings.HasPrefix(reqs[1].User, "ЧАСТНЫЕ"))
	assert.Contains(t, reqs[1].User, `"Содержание": ""`)
	assert.NotContains(t, reqs[1].User, "Организация")
}

func TestLLMExtractor_MissingTemplate(t *testing.T) {
	p, err := NewStickPromptProvider()
	require.NoError(t, err)
	x := NewLLMExtractor(NewFakeChatClient(), p, mustSchema(t, testSchemaJSON))

	_, _, err = x.Extract(context.Background(), "текст", nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestLLMExtractor_TruncatesDocument(t *testing.T) {
	client := NewFakeChatClient()
	x := NewLLMExtractor(client, testPrompts(t), StringSchema("a"))

	_, _, err := x.Extract(context.Background(), strings.Repeat("ж", maxDocumentChars+10), nil)
	require.NoError(t, err)

	user := client.Requests()[0].User
	doc := user[strings.LastIndex(user, "---\n")+4:]
	assert.Equal(t, maxDocumentChars, len([]rune(doc)))
}

func TestParseModelObject(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  map[string]any
		stage string
	}{
		{"strict", ` {"a": 1} `, map[string]any{"a": 1.0}, RecoveryStrict},
		{"fenced", "```json\n{\"a\": \"x\"}\n```", map[string]any{"a": "x"}, RecoveryFenced},
		{"balanced", `Ответ: {"a": {"b": "}"}} и ещё {"c": 2}`, map[string]any{"a": map[string]any{"b": "}"}}, RecoveryBalanced},
		{"skips broken candidate", `{oops} then {"a": true}`, map[string]any{"a": true}, RecoveryBalanced},
		{"unbalanced", `{"a": 1`, map[string]any{}, RecoveryNone},
		{"non-object JSON", `[1, 2]`, map[string]any{}, RecoveryStrict},
		{"nothing", "нет данных", map[string]any{}, RecoveryNone},
		{"empty", "", map[string]any{}, RecoveryNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stage := ParseModelObject(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.stage, stage)
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "абв", truncateRunes("абвгд", 3))
	assert.Equal(t, "аб", truncateRunes("аб", 3))
	assert.Equal(t, "abc", truncateRunes("abc", 3))
}
