package contracts

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError is one schema violation of a record.
type ValidationError struct {
	Path       []any  `json:"path"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Validator  string `json:"validator"`
	SchemaPath string `json:"schema_path"`
}

// Validator checks records against a JSON Schema (draft 2020-12).
type Validator struct {
	schema   *Schema
	compiled *jsonschema.Schema
}

func NewValidator(schema *Schema) (*Validator, error) {
	raw, err := schema.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, &ConfigError{Source: "schema.json", Err: err}
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, &ConfigError{Source: "schema.json", Err: err}
	}
	return &Validator{schema: schema, compiled: compiled}, nil
}

// Schema returns the schema the validator was compiled from.
func (v *Validator) Schema() *Schema { return v.schema }

// Validate returns the violations of r ordered by schema path. A conforming
// record gives an empty list.
func (v *Validator) Validate(r Record) []ValidationError {
	err := v.compiled.Validate(r.Plain())
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []ValidationError{{Message: err.Error()}}
	}

	var out []ValidationError
	for _, leaf := range leafErrors(verr) {
		out = append(out, v.convert(leaf)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SchemaPath != out[j].SchemaPath {
			return out[i].SchemaPath < out[j].SchemaPath
		}
		return fmt.Sprint(out[i].Path) < fmt.Sprint(out[j].Path)
	})
	return out
}

func leafErrors(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, leafErrors(c)...)
	}
	return out
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

// convert maps a library error to ValidationErrors; a "required" failure is
// split into one error per missing property.
func (v *Validator) convert(e *jsonschema.ValidationError) []ValidationError {
	segments := pointerSegments(e.KeywordLocation)
	validator := ""
	if len(segments) > 0 {
		validator = segments[len(segments)-1]
	}
	base := ValidationError{
		Path:       instancePath(e.InstanceLocation),
		Message:    e.Message,
		Validator:  validator,
		SchemaPath: strings.Join(segments, "."),
	}

	if validator == "required" {
		names := quotedName.FindAllStringSubmatch(e.Message, -1)
		if len(names) > 1 {
			out := make([]ValidationError, 0, len(names))
			for _, n := range names {
				item := base
				item.Message = fmt.Sprintf("missing property '%s'", n[1])
				item.Title = titleFor(item, n[1], nil)
				out = append(out, item)
			}
			return out
		}
	}
	base.Title = titleFor(base, "", v.schema.Required())
	return []ValidationError{base}
}

// titleFor picks a human label: the dotted instance path, else the missing
// property of a required failure, else the dotted schema path.
func titleFor(e ValidationError, missing string, required []string) string {
	if len(e.Path) > 0 {
		parts := make([]string, len(e.Path))
		for i, p := range e.Path {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ".")
	}
	if e.Validator == "required" {
		if missing != "" {
			return missing
		}
		if m := quotedName.FindStringSubmatch(e.Message); m != nil {
			return m[1]
		}
		if len(required) > 0 {
			return required[0]
		}
	}
	return e.SchemaPath
}

func pointerSegments(ptr string) []string {
	ptr = strings.TrimPrefix(ptr, "#")
	if ptr == "" || ptr == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, p := range parts {
		// Locations percent-encode non-ASCII property names.
		if u, err := url.PathUnescape(p); err == nil {
			p = u
		}
		parts[i] = strings.NewReplacer("~1", "/", "~0", "~").Replace(p)
	}
	return parts
}

func instancePath(ptr string) []any {
	segments := pointerSegments(ptr)
	out := make([]any, len(segments))
	for i, s := range segments {
		if n, err := strconv.Atoi(s); err == nil {
			out[i] = n
			continue
		}
		out[i] = s
	}
	return out
}
