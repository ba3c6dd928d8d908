package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Schema is a JSON-Schema object document that remembers the declaration order
// of its top-level members and of its properties. Every prompt, skeleton and
// subset derived from it keeps that order.
type Schema struct {
	keys  []string
	attrs map[string]any
	props []Property
}

// Property is one entry of the schema's "properties" object.
type Property struct {
	Name string
	Def  map[string]any
}

// ParseSchema decodes a JSON-Schema object.
func ParseSchema(data []byte) (*Schema, error) {
	keys, members, err := orderedMembers(data)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	s := &Schema{keys: keys, attrs: make(map[string]any, len(keys))}
	for _, k := range keys {
		if k == "properties" {
			continue
		}
		var v any
		if err := json.Unmarshal(members[k], &v); err != nil {
			return nil, fmt.Errorf("parse schema member %q: %w", k, err)
		}
		s.attrs[k] = v
	}
	if raw, ok := members["properties"]; ok {
		names, defs, err := orderedMembers(raw)
		if err != nil {
			return nil, fmt.Errorf("parse schema properties: %w", err)
		}
		for _, name := range names {
			var def map[string]any
			if err := json.Unmarshal(defs[name], &def); err != nil {
				return nil, fmt.Errorf("parse schema property %q: %w", name, err)
			}
			s.props = append(s.props, Property{Name: name, Def: def})
		}
	}
	return s, nil
}

// StringSchema builds an object schema whose properties are all strings.
func StringSchema(names ...string) *Schema {
	s := &Schema{keys: []string{"type", "properties"}, attrs: map[string]any{"type": "object"}}
	for _, n := range names {
		s.props = append(s.props, Property{Name: n, Def: map[string]any{"type": "string"}})
	}
	return s
}

// orderedMembers decodes a JSON object into its member names, in document
// order, and their raw values.
func orderedMembers(data []byte) ([]string, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected a JSON object")
	}
	var keys []string
	members := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, fmt.Errorf("member %q: %w", key, err)
		}
		if _, dup := members[key]; !dup {
			keys = append(keys, key)
		}
		members[key] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, members, nil
}

// PropertyNames returns the property names in declaration order.
func (s *Schema) PropertyNames() []string {
	names := make([]string, len(s.props))
	for i, p := range s.props {
		names[i] = p.Name
	}
	return names
}

func (s *Schema) Property(name string) (map[string]any, bool) {
	for _, p := range s.props {
		if p.Name == name {
			return p.Def, true
		}
	}
	return nil, false
}

// PropertyType returns the declared JSON type of a property. For a type list
// the first non-null entry wins.
func (s *Schema) PropertyType(name string) string {
	def, ok := s.Property(name)
	if !ok {
		return ""
	}
	switch t := def["type"].(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if str, ok := item.(string); ok && str != "null" {
				return str
			}
		}
	}
	return ""
}

// Required returns the "required" list, or nil when it is absent or not a list.
func (s *Schema) Required() []string {
	list, ok := s.attrs["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if name, ok := item.(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *Schema) Clone() *Schema {
	c := &Schema{
		keys:  slices.Clone(s.keys),
		attrs: make(map[string]any, len(s.attrs)),
		props: make([]Property, len(s.props)),
	}
	for k, v := range s.attrs {
		c.attrs[k] = deepCopy(v)
	}
	for i, p := range s.props {
		def, _ := deepCopy(p.Def).(map[string]any)
		c.props[i] = Property{Name: p.Name, Def: def}
	}
	return c
}

// Restrict returns a deep copy whose properties and required list only keep
// the names accepted by keep. The receiver is not modified.
func (s *Schema) Restrict(keep func(name string) bool) *Schema {
	c := s.Clone()
	c.props = slices.DeleteFunc(c.props, func(p Property) bool { return !keep(p.Name) })
	if list, ok := c.attrs["required"].([]any); ok {
		c.attrs["required"] = slices.DeleteFunc(list, func(item any) bool {
			name, _ := item.(string)
			return !keep(name)
		})
	}
	return c
}

// MarshalJSON writes the schema in declaration order.
func (s *Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if k == "properties" {
			if err := s.writeProperties(&buf); err != nil {
				return nil, err
			}
			continue
		}
		if err := writeJSON(&buf, s.attrs[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Schema) writeProperties(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, p := range s.props {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(buf, p.Name); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeJSON(buf, p.Def); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// Canonical returns the indented JSON document embedded in prompts.
func (s *Schema) Canonical() (string, error) {
	raw, err := s.MarshalJSON()
	if err != nil {
		return "", err
	}
	return indentJSON(raw)
}

// Skeleton returns the expected model output shape: one key per property in
// declaration order, typed integer→0, number→0.0, boolean→false, else "".
func (s *Schema) Skeleton() (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range s.props {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, p.Name); err != nil {
			return "", err
		}
		buf.WriteByte(':')
		switch s.PropertyType(p.Name) {
		case "integer":
			buf.WriteString("0")
		case "number":
			buf.WriteString("0.0")
		case "boolean":
			buf.WriteString("false")
		default:
			buf.WriteString(`""`)
		}
	}
	buf.WriteByte('}')
	return indentJSON(buf.Bytes())
}

func writeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func indentJSON(raw []byte) (string, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return "", err
	}
	return out.String(), nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			m[k] = deepCopy(item)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, item := range t {
			l[i] = deepCopy(item)
		}
		return l
	}
	return v
}
