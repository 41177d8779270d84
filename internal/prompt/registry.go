// Package prompt renders the system and user prompts sent to the model.
package prompt

import (
	"bytes"
	"embed"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Prompt names defined by the embedded templates.
const (
	PlannerSystem  = "planner.system"
	PlannerUser    = "planner.user"
	SynthSystem    = "synth.system"
	SynthUser      = "synth.user"
	RouterSystem   = "router.system"
	RouterUser     = "router.user"
	HumanizeSystem = "humanize.system"
	HumanizeUser   = "humanize.user"
)

// Registry manages named text templates with the sprig function map.
type Registry struct {
	mu   sync.RWMutex
	root *template.Template
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{root: template.New("prompts").Funcs(sprig.TxtFuncMap())}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns a registry holding the embedded prompts. It panics if
// the embedded templates do not parse.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		if err := r.LoadFS(templatesFS, "templates/*.tmpl"); err != nil {
			panic(err)
		}
		defaultReg = r
	})
	return defaultReg
}

// LoadFS parses every file matching pattern; templates are addressed by
// their {{define}} names.
func (r *Registry) LoadFS(fsys embed.FS, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.root.ParseFS(fsys, pattern); err != nil {
		return errors.Wrapf(err, "failed to parse prompts %s", pattern)
	}
	return nil
}

// DefinePrompt adds or replaces a named prompt.
func (r *Registry) DefinePrompt(name, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.root.New(name).Parse(text); err != nil {
		return errors.Wrapf(err, "failed to define prompt '%s'", name)
	}
	return nil
}

// DefinePartial adds a template other prompts include with
// {{template "name" .}}.
func (r *Registry) DefinePartial(name, text string) error {
	return r.DefinePrompt(name, text)
}

// DefineHelper makes fn callable from prompts parsed afterwards.
func (r *Registry) DefineHelper(name string, fn any) error {
	if fn == nil {
		return errors.Newf("helper '%s' is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root.Funcs(template.FuncMap{name: fn})
	return nil
}

// Has reports whether a prompt is defined.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root.Lookup(name) != nil
}

// RenderPrompt executes the named prompt with data.
func (r *Registry) RenderPrompt(name string, data any) (string, error) {
	r.mu.RLock()
	t := r.root.Lookup(name)
	r.mu.RUnlock()
	if t == nil {
		return "", errors.Newf("prompt '%s' not found", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "failed to render prompt '%s'", name)
	}
	return strings.TrimSpace(buf.String()), nil
}

// MustRender is RenderPrompt for the embedded prompts, whose data shapes
// are fixed by this package's callers.
func (r *Registry) MustRender(name string, data any) string {
	s, err := r.RenderPrompt(name, data)
	if err != nil {
		panic(err)
	}
	return s
}
