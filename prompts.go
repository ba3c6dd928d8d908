package contracts

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tyler-sommer/stick"
)

// Template tags rendered by the pipeline.
const (
	TemplateSystem        = "system"
	TemplateUser          = "user_template"
	TemplateSummarySystem = "summary_system"
	TemplateSummary       = "summary_template"
	TemplateQASystem      = "qa_system"
	TemplateQA            = "qa_template"
)

// PromptProvider renders the prompt template registered under tag.
type PromptProvider interface {
	Render(tag string, vars map[string]any) (string, error)
}

// StickPromptProvider renders Twig templates held in memory. Templates can be
// loaded from any fs.FS, so embedded and on-disk assets behave the same.
type StickPromptProvider struct {
	env       *stick.Env
	mu        sync.RWMutex
	templates map[string]string
	vars      map[string]any // available in every template
}

// PromptOption configures NewStickPromptProvider.
type PromptOption func(*StickPromptProvider) error

// WithFS loads every *.twig file found under dir in the supplied FS.
func WithFS[F fs.FS](fsys F, dir string) PromptOption {
	return func(p *StickPromptProvider) error {
		return fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".twig") {
				return nil
			}
			content, readErr := fs.ReadFile(fsys, path)
			if readErr != nil {
				return fmt.Errorf("read %s: %w", path, readErr)
			}
			tag := strings.TrimSuffix(filepath.Base(path), ".twig")
			p.templates[tag] = string(content)
			return nil
		})
	}
}

// WithTemplates lets you inject an in-memory map.
func WithTemplates(m map[string]string) PromptOption {
	return func(p *StickPromptProvider) error {
		for k, v := range m {
			p.templates[k] = v
		}
		return nil
	}
}

// WithVar adds a variable that will be available in all templates
func WithVar(key string, value any) PromptOption {
	return func(p *StickPromptProvider) error {
		p.vars[key] = value
		return nil
	}
}

// NewStickPromptProvider builds a provider from any combination of options.
func NewStickPromptProvider(opts ...PromptOption) (*StickPromptProvider, error) {
	p := &StickPromptProvider{
		env:       stick.New(nil),
		templates: make(map[string]string),
		vars:      make(map[string]any),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddTemplate updates or inserts one template.
func (p *StickPromptProvider) AddTemplate(tag, tpl string) {
	p.mu.Lock()
	p.templates[tag] = tpl
	p.mu.Unlock()
}

// Has reports whether a template is registered under tag.
func (p *StickPromptProvider) Has(tag string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.templates[tag]
	return ok
}

// Render executes the template for tag. Call variables shadow the provider's
// shared variables.
func (p *StickPromptProvider) Render(tag string, vars map[string]any) (string, error) {
	p.mu.RLock()
	tpl, ok := p.templates[tag]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, tag)
	}

	templateCtx := make(map[string]stick.Value, len(p.vars)+len(vars)+1)
	templateCtx["tag"] = tag
	for k, v := range p.vars {
		templateCtx[k] = v
	}
	for k, v := range vars {
		templateCtx[k] = v
	}

	var out strings.Builder
	if err := p.env.Execute(tpl, &out, templateCtx); err != nil {
		return "", fmt.Errorf("execute %q: %w", tag, err)
	}
	return out.String(), nil
}
