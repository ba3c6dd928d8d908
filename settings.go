package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultFieldInstruction = "Нет специальных инструкций. Используй общий контекст документа."

// SettingsPaths locates the configuration artifacts inside an fs.FS.
type SettingsPaths struct {
	Extractors string // field → method routing table, required
	Guidelines string // general guideline text, optional
	PromptsDir string // per-field guideline documents named <field>.md, optional
	Contexts   string // slicing rules or explicit groups, optional
}

// DefaultSettingsPaths matches the layout of the embedded assets.
var DefaultSettingsPaths = SettingsPaths{
	Extractors: "field_extractors.json",
	Guidelines: "prompts/field_guidelines.md",
	PromptsDir: "prompts/fields",
	Contexts:   "field_contexts.json",
}

// FieldGroup is an ordered set of fields extracted together in one model call
// over one document slice.
type FieldGroup struct {
	Name   string
	Fields []string
	Slice  DocumentSlice
}

// promptSnapshot is an immutable view of the guideline texts.
type promptSnapshot struct {
	general string
	fields  map[string]string
}

// FieldSettings resolves how every field is extracted. The routing table and
// slicing rules are read once; guideline texts are cached and reloaded after
// RefreshPrompts. FieldSettings is safe for concurrent use.
type FieldSettings struct {
	fsys  fs.FS
	paths SettingsPaths
	log   *slog.Logger

	order   []string
	methods map[string]Method
	rules   map[string]DocumentSlice
	groups  []FieldGroup

	prompts atomic.Pointer[promptSnapshot]
	loadMu  sync.Mutex
}

// SettingsOption configures LoadFieldSettings.
type SettingsOption func(*FieldSettings)

func WithSettingsLogger(log *slog.Logger) SettingsOption {
	return func(s *FieldSettings) {
		if log != nil {
			s.log = log
		}
	}
}

// LoadFieldSettings reads the routing table and context rules from fsys.
// A missing routing table, an unknown method or malformed context data is a
// *ConfigError.
func LoadFieldSettings(fsys fs.FS, paths SettingsPaths, opts ...SettingsOption) (*FieldSettings, error) {
	s := &FieldSettings{
		fsys:    fsys,
		paths:   paths,
		log:     slog.Default(),
		methods: make(map[string]Method),
		rules:   make(map[string]DocumentSlice),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadExtractors(); err != nil {
		return nil, err
	}
	if err := s.loadContexts(); err != nil {
		return nil, err
	}
	s.log.Debug("field settings loaded",
		"fields", len(s.order),
		"context_rules", len(s.rules),
		"context_groups", len(s.groups))
	return s, nil
}

func (s *FieldSettings) loadExtractors() error {
	data, err := fs.ReadFile(s.fsys, s.paths.Extractors)
	if err != nil {
		return &ConfigError{Source: s.paths.Extractors, Err: err}
	}
	keys, members, err := orderedMembers(data)
	if err != nil {
		return &ConfigError{Source: s.paths.Extractors, Err: err}
	}
	for _, field := range keys {
		var label string
		if err := json.Unmarshal(members[field], &label); err != nil {
			return &ConfigError{Source: s.paths.Extractors, Field: field, Err: errors.New("method must be a string")}
		}
		m, err := ParseMethod(label)
		if err != nil {
			return &ConfigError{Source: s.paths.Extractors, Field: field, Err: err}
		}
		s.order = append(s.order, field)
		s.methods[field] = m
	}
	return nil
}

func (s *FieldSettings) loadContexts() error {
	if s.paths.Contexts == "" {
		return nil
	}
	data, err := fs.ReadFile(s.fsys, s.paths.Contexts)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &ConfigError{Source: s.paths.Contexts, Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return &ConfigError{Source: s.paths.Contexts, Err: err}
	}

	switch v := raw.(type) {
	case []any:
		return s.loadGroups(v)
	case map[string]any:
		if groups, ok := v["groups"]; ok {
			list, ok := groups.([]any)
			if !ok {
				return &ConfigError{Source: s.paths.Contexts, Field: "groups", Err: errors.New("groups must be a list")}
			}
			return s.loadGroups(list)
		}
		return s.loadFlatRules(data, v)
	}
	return &ConfigError{Source: s.paths.Contexts, Err: errors.New("context configuration must be an object or a list")}
}

// loadGroups reads explicit named groups. Every field of a group inherits the
// group's slice as its individual context rule.
func (s *FieldSettings) loadGroups(items []any) error {
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := fmt.Sprint(obj["name"])
		if obj["name"] == nil {
			name = fmt.Sprintf("group_%d", i)
		}

		rawFields, present := obj["fields"]
		if !present || rawFields == nil {
			continue
		}
		list, ok := rawFields.([]any)
		if !ok {
			return &ConfigError{Source: s.paths.Contexts, Field: name, Err: errors.New("context group fields must be a list of field names")}
		}
		if len(list) == 0 {
			continue
		}

		sliceSpec, _ := obj["slice"].(map[string]any)
		if sliceSpec == nil {
			sliceSpec = make(map[string]any)
			for k, v := range obj {
				if k != "fields" && k != "name" && k != "slice" {
					sliceSpec[k] = v
				}
			}
		}
		ds, err := SliceFromMap(sliceSpec)
		if err != nil {
			return &ConfigError{Source: s.paths.Contexts, Field: name, Err: err}
		}

		g := FieldGroup{Name: name, Slice: ds}
		for _, f := range list {
			field := fmt.Sprint(f)
			g.Fields = append(g.Fields, field)
			s.rules[field] = ds
		}
		s.groups = append(s.groups, g)
	}
	return nil
}

func (s *FieldSettings) loadFlatRules(data []byte, obj map[string]any) error {
	keys, _, err := orderedMembers(data)
	if err != nil {
		return &ConfigError{Source: s.paths.Contexts, Err: err}
	}
	for _, field := range keys {
		var spec map[string]any
		switch v := obj[field].(type) {
		case nil:
		case map[string]any:
			spec = v
		default:
			return &ConfigError{Source: s.paths.Contexts, Field: field, Err: fmt.Errorf("slice must be an object, got %T", v)}
		}
		ds, err := SliceFromMap(spec)
		if err != nil {
			return &ConfigError{Source: s.paths.Contexts, Field: field, Err: err}
		}
		s.rules[field] = ds
	}
	return nil
}

// Method returns the routing method of field; unknown fields use MethodLLM.
func (s *FieldSettings) Method(field string) Method {
	if m, ok := s.methods[field]; ok {
		return m
	}
	return MethodLLM
}

func (s *FieldSettings) IsEnabled(field string) bool { return s.Method(field) != MethodOff }

// Fields returns the routing table's fields in declaration order.
func (s *FieldSettings) Fields() []string { return slices.Clone(s.order) }

// EnabledFields yields the routed fields that are not switched off.
func (s *FieldSettings) EnabledFields() iter.Seq[string] {
	return s.fieldsWhere(func(m Method) bool { return m != MethodOff })
}

// DisabledFields yields the routed fields that are switched off.
func (s *FieldSettings) DisabledFields() iter.Seq[string] {
	return s.fieldsWhere(func(m Method) bool { return m == MethodOff })
}

// LLMFields yields the fields routed to the model extractor.
func (s *FieldSettings) LLMFields() iter.Seq[string] {
	return s.fieldsWhere(func(m Method) bool { return m == MethodLLM })
}

func (s *FieldSettings) fieldsWhere(pred func(Method) bool) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, f := range s.order {
			if pred(s.methods[f]) && !yield(f) {
				return
			}
		}
	}
}

// FilterSchema returns a deep copy of schema without disabled properties.
func (s *FieldSettings) FilterSchema(schema *Schema) *Schema {
	return schema.Restrict(s.IsEnabled)
}

// FilterPayload keeps only the keys of enabled fields.
func (s *FieldSettings) FilterPayload(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if s.IsEnabled(k) {
			out[k] = v
		}
	}
	return out
}

// BuildSchemaSubset returns a deep copy of schema restricted to fields.
func (s *FieldSettings) BuildSchemaSubset(schema *Schema, fields []string) *Schema {
	return schema.Restrict(func(name string) bool { return slices.Contains(fields, name) })
}

// ContextRule returns the slice configured for field, or the full document.
func (s *FieldSettings) ContextRule(field string) DocumentSlice {
	if r, ok := s.rules[field]; ok {
		return r
	}
	return FullSlice()
}

// BuildLLMGroups returns the model-extraction groups in call order. Every
// enabled LLM field appears in exactly one group.
func (s *FieldSettings) BuildLLMGroups() []FieldGroup {
	isLLM := func(f string) bool { return s.Method(f) == MethodLLM }

	if len(s.groups) > 0 {
		var out []FieldGroup
		assigned := make(map[string]bool)
		for _, g := range s.groups {
			var fields []string
			for _, f := range g.Fields {
				if isLLM(f) && !assigned[f] {
					fields = append(fields, f)
					assigned[f] = true
				}
			}
			if len(fields) == 0 {
				continue
			}
			out = append(out, FieldGroup{Name: g.Name, Fields: fields, Slice: g.Slice})
		}
		for f := range s.LLMFields() {
			if assigned[f] {
				continue
			}
			out = append(out, FieldGroup{Name: f, Fields: []string{f}, Slice: s.ContextRule(f)})
		}
		return out
	}

	var out []FieldGroup
	index := make(map[DocumentSlice]int)
	for f := range s.LLMFields() {
		rule := s.ContextRule(f)
		i, seen := index[rule]
		if !seen {
			i = len(out)
			index[rule] = i
			out = append(out, FieldGroup{Name: rule.String(), Slice: rule})
		}
		out[i].Fields = append(out[i].Fields, f)
	}
	return out
}

// BuildGuidelinesBundle joins the general guidelines with one section per
// enabled field. A nil fields slice means every routed field in declaration
// order.
func (s *FieldSettings) BuildGuidelinesBundle(fields []string) string {
	snap := s.snapshot()

	var sections []string
	if g := strings.TrimSpace(snap.general); g != "" {
		sections = append(sections, g)
	}
	if fields == nil {
		fields = s.order
	}
	for _, f := range fields {
		if !s.IsEnabled(f) {
			continue
		}
		body := strings.TrimSpace(snap.fields[f])
		if body == "" {
			body = defaultFieldInstruction
		}
		sections = append(sections, fmt.Sprintf("## %s (способ: %s)\n\n%s", f, s.Method(f), body))
	}
	return strings.Join(sections, "\n\n")
}

// RefreshPrompts drops the cached guideline texts; the next read reloads them
// from the file system. The routing table and slicing rules are unchanged.
func (s *FieldSettings) RefreshPrompts() {
	s.prompts.Store(nil)
}

func (s *FieldSettings) snapshot() *promptSnapshot {
	if snap := s.prompts.Load(); snap != nil {
		return snap
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if snap := s.prompts.Load(); snap != nil {
		return snap
	}
	snap := s.readPrompts()
	s.prompts.Store(snap)
	return snap
}

func (s *FieldSettings) readPrompts() *promptSnapshot {
	snap := &promptSnapshot{fields: make(map[string]string)}
	if s.paths.Guidelines != "" {
		if data, err := fs.ReadFile(s.fsys, s.paths.Guidelines); err == nil {
			snap.general = string(data)
		} else if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("read general guidelines", "path", s.paths.Guidelines, "error", err)
		}
	}
	if s.paths.PromptsDir == "" {
		return snap
	}
	matches, err := fs.Glob(s.fsys, path.Join(s.paths.PromptsDir, "*.md"))
	if err != nil {
		s.log.Warn("list field prompts", "dir", s.paths.PromptsDir, "error", err)
		return snap
	}
	sort.Strings(matches)
	for _, m := range matches {
		data, err := fs.ReadFile(s.fsys, m)
		if err != nil {
			s.log.Warn("read field prompt", "path", m, "error", err)
			continue
		}
		snap.fields[strings.TrimSuffix(path.Base(m), ".md")] = string(data)
	}
	return snap
}
