package contracts

import (
	"slices"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingsFS(extractors, contexts string) fstest.MapFS {
	fsys := fstest.MapFS{
		"field_extractors.json":            {Data: []byte(extractors)},
		"prompts/field_guidelines.md":      {Data: []byte("Общие правила.\n")},
		"prompts/fields/Содержание.md":     {Data: []byte("Опиши предмет договора.")},
		"prompts/fields/СпособОплаты.md":   {Data: []byte("Укажи способ оплаты.")},
		"prompts/fields/НеИспользуется.md": {Data: []byte("лишний файл")},
	}
	if contexts != "" {
		fsys["field_contexts.json"] = &fstest.MapFile{Data: []byte(contexts)}
	}
	return fsys
}

const testExtractors = `{
  "Сумма": "rule",
  "Содержание": "llm",
  "СпособОплаты": "LLM",
  "ВидДоговора": "llm",
  "Ответственный": "off"
}`

func mustSettings(t *testing.T, fsys fstest.MapFS) *FieldSettings {
	t.Helper()
	s, err := LoadFieldSettings(fsys, DefaultSettingsPaths)
	require.NoError(t, err)
	return s
}

func TestLoadFieldSettings_Routing(t *testing.T) {
	s := mustSettings(t, settingsFS(testExtractors, ""))

	assert.Equal(t, []string{"Сумма", "Содержание", "СпособОплаты", "ВидДоговора", "Ответственный"}, s.Fields())
	assert.Equal(t, MethodRule, s.Method("Сумма"))
	assert.Equal(t, MethodLLM, s.Method("СпособОплаты"))
	assert.Equal(t, MethodOff, s.Method("Ответственный"))
	assert.Equal(t, MethodLLM, s.Method("НеУказано"), "unlisted fields default to llm")

	assert.True(t, s.IsEnabled("Сумма"))
	assert.False(t, s.IsEnabled("Ответственный"))
	assert.Equal(t, []string{"Ответственный"}, slices.Collect(s.DisabledFields()))
	assert.Equal(t, []string{"Содержание", "СпособОплаты", "ВидДоговора"}, slices.Collect(s.LLMFields()))
	assert.Len(t, slices.Collect(s.EnabledFields()), 4)
}

func TestLoadFieldSettings_ConfigErrors(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"missing routing table": {},
		"unknown method":        settingsFS(`{"Сумма": "regex"}`, ""),
		"non-string method":     settingsFS(`{"Сумма": 1}`, ""),
		"malformed routing":     settingsFS(`{"Сумма": `, ""),
		"malformed contexts":    settingsFS(testExtractors, `{"Содержание": `),
		"bad slice mode":        settingsFS(testExtractors, `{"Содержание": {"mode": "middle"}}`),
		"non-object rule":       settingsFS(testExtractors, `{"Содержание": 5}`),
		"fields not a list":     settingsFS(testExtractors, `{"groups": [{"name": "g", "fields": "Содержание"}]}`),
		"groups not a list":     settingsFS(testExtractors, `{"groups": {"name": "g"}}`),
		"scalar contexts":       settingsFS(testExtractors, `42`),
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFieldSettings(fsys, DefaultSettingsPaths)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestBuildLLMGroups_FlatRulesGroupBySlice(t *testing.T) {
	contexts := `{
  "Содержание": {"mode": "head", "size": 12000},
  "ВидДоговора": {"mode": "head", "size": 12000},
  "Сумма": {"mode": "tail", "size": 10}
}`
	s := mustSettings(t, settingsFS(testExtractors, contexts))

	groups := s.BuildLLMGroups()
	require.Len(t, groups, 2)

	assert.Equal(t, []string{"Содержание", "ВидДоговора"}, groups[0].Fields)
	assert.Equal(t, HeadSlice(12000), groups[0].Slice)
	assert.Equal(t, "head(12000)", groups[0].Name)

	assert.Equal(t, []string{"СпособОплаты"}, groups[1].Fields)
	assert.Equal(t, FullSlice(), groups[1].Slice)
}

func TestBuildLLMGroups_ExplicitGroups(t *testing.T) {
	contexts := `{"groups": [
  {"name": "subject", "fields": ["Содержание", "Сумма", "Ответственный"], "mode": "head", "size": 100},
  {"name": "dup", "fields": ["Содержание"]},
  {"fields": ["ВидДоговора"], "slice": {"mode": "tail", "size": 50}},
  {"name": "empty", "fields": []}
]}`
	s := mustSettings(t, settingsFS(testExtractors, contexts))

	groups := s.BuildLLMGroups()
	require.Len(t, groups, 3)

	assert.Equal(t, FieldGroup{Name: "subject", Fields: []string{"Содержание"}, Slice: HeadSlice(100)}, groups[0])
	assert.Equal(t, FieldGroup{Name: "group_2", Fields: []string{"ВидДоговора"}, Slice: TailSlice(50)}, groups[1])
	assert.Equal(t, FieldGroup{Name: "СпособОплаты", Fields: []string{"СпособОплаты"}, Slice: FullSlice()}, groups[2])

	assert.Equal(t, HeadSlice(100), s.ContextRule("Сумма"), "group members inherit the group slice")
}

func TestBuildLLMGroups_EveryLLMFieldExactlyOnce(t *testing.T) {
	for name, contexts := range map[string]string{
		"none": "",
		"flat": `{"Содержание": {"mode": "tail", "size": 5}}`,
		"groups": `[{"name": "a", "fields": ["СпособОплаты", "Содержание"]},
		            {"name": "b", "fields": ["Содержание", "ВидДоговора"], "size": 20}]`,
	} {
		t.Run(name, func(t *testing.T) {
			s := mustSettings(t, settingsFS(testExtractors, contexts))

			seen := map[string]int{}
			for _, g := range s.BuildLLMGroups() {
				assert.NotEmpty(t, g.Fields)
				for _, f := range g.Fields {
					seen[f]++
				}
			}
			for f := range s.LLMFields() {
				assert.Equal(t, 1, seen[f], f)
			}
			assert.Len(t, seen, 3)
		})
	}
}

func TestFilterSchemaAndPayload(t *testing.T) {
	s := mustSettings(t, settingsFS(testExtractors, ""))
	schema := mustSchema(t, `{"type":"object","properties":{
		"Сумма":{"type":"number"},"Ответственный":{"type":"string"},"Другое":{"type":"string"}},
		"required":["Сумма","Ответственный"]}`)

	filtered := s.FilterSchema(schema)
	assert.Equal(t, []string{"Сумма", "Другое"}, filtered.PropertyNames())
	assert.Equal(t, []string{"Сумма"}, filtered.Required())
	assert.Len(t, schema.PropertyNames(), 3)

	payload := s.FilterPayload(Record{"Сумма": 1.0, "Ответственный": "Иванов", "Другое": "x"})
	assert.Equal(t, Record{"Сумма": 1.0, "Другое": "x"}, payload)

	subset := s.BuildSchemaSubset(schema, []string{"Другое"})
	assert.Equal(t, []string{"Другое"}, subset.PropertyNames())
	assert.Empty(t, subset.Required())
}

func TestBuildGuidelinesBundle(t *testing.T) {
	s := mustSettings(t, settingsFS(testExtractors, ""))

	bundle := s.BuildGuidelinesBundle([]string{"Содержание", "ВидДоговора", "Ответственный"})

	assert.True(t, strings.HasPrefix(bundle, "Общие правила."))
	assert.Contains(t, bundle, "## Содержание (способ: llm)\n\nОпиши предмет договора.")
	assert.Contains(t, bundle, "## ВидДоговора (способ: llm)\n\n"+defaultFieldInstruction)
	assert.NotContains(t, bundle, "Ответственный")
	assert.NotContains(t, bundle, "Укажи способ оплаты")

	all := s.BuildGuidelinesBundle(nil)
	assert.Contains(t, all, "## Сумма (способ: rule)")
	assert.Contains(t, all, "Укажи способ оплаты.")
	assert.NotContains(t, all, "лишний файл")
}

func TestRefreshPrompts(t *testing.T) {
	fsys := settingsFS(testExtractors, "")
	s := mustSettings(t, fsys)

	before := s.BuildGuidelinesBundle([]string{"Содержание"})
	fsys["prompts/fields/Содержание.md"] = &fstest.MapFile{Data: []byte("Новая инструкция.")}

	assert.Equal(t, before, s.BuildGuidelinesBundle([]string{"Содержание"}), "texts are cached")

	s.RefreshPrompts()
	assert.Contains(t, s.BuildGuidelinesBundle([]string{"Содержание"}), "Новая инструкция.")
}

func TestContextRule_DefaultsToFullDocument(t *testing.T) {
	s := mustSettings(t, settingsFS(testExtractors, ""))
	assert.Equal(t, FullSlice(), s.ContextRule("Содержание"))
}
