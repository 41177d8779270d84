package orchestrator

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// PlanStep is one unit of work: call ToolKey once its dependencies have
// produced output.
type PlanStep struct {
	ID        string         `json:"id" yaml:"id"`
	Intent    string         `json:"intent" yaml:"intent"`
	ToolKey   string         `json:"tool_key" yaml:"tool_key"`
	ArgsHint  map[string]any `json:"args_hint,omitempty" yaml:"args_hint,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Plan is an ordered list of steps forming a DAG via DependsOn.
type Plan struct {
	Steps []PlanStep `json:"steps" yaml:"steps"`
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}

// IsEmpty reports whether the plan has no steps.
func (p *Plan) IsEmpty() bool {
	return p.Len() == 0
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (PlanStep, bool) {
	if p == nil {
		return PlanStep{}, false
	}
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}

// HasStep reports whether a step with id exists.
func (p *Plan) HasStep(id string) bool {
	_, ok := p.Step(id)
	return ok
}

// Clone copies the step list. Hint maps are copied one level deep.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return &Plan{}
	}
	steps := make([]PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		s.DependsOn = append([]string(nil), s.DependsOn...)
		if s.ArgsHint != nil {
			hint := make(map[string]any, len(s.ArgsHint))
			for k, v := range s.ArgsHint {
				hint[k] = v
			}
			s.ArgsHint = hint
		}
		steps[i] = s
	}
	return &Plan{Steps: steps}
}

// Validate reports duplicate ids, dependencies on unknown steps and cycles.
// The executor tolerates all three; Validate exists for plan files and logs.
func (p *Plan) Validate() error {
	ids := make(map[string]struct{}, p.Len())
	for _, s := range p.Steps {
		if s.ID == "" {
			return errors.Newf("step for tool %q has an empty id", s.ToolKey)
		}
		if _, dup := ids[s.ID]; dup {
			return errors.Newf("duplicate step id found: %s", s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := ids[dep]; !ok {
				return errors.Newf("step '%s' depends on missing step '%s'", s.ID, dep)
			}
		}
	}

	visited := make(map[string]bool, len(ids))
	stack := make(map[string]bool, len(ids))
	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		if stack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		stack[id] = true
		if step, ok := p.Step(id); ok {
			for _, dep := range step.DependsOn {
				if hasCycle(dep) {
					return true
				}
			}
		}
		stack[id] = false
		return false
	}
	for _, s := range p.Steps {
		if hasCycle(s.ID) {
			return errors.Newf("cycle detected in plan at step '%s'", s.ID)
		}
	}
	return nil
}

// Format renders one line per step for logs.
func (p *Plan) Format() string {
	lines := make([]string, 0, p.Len())
	for _, s := range p.Steps {
		lines = append(lines, fmt.Sprintf("- %s: %s :: intent='%s' deps=[%s]",
			s.ID, s.ToolKey, s.Intent, strings.Join(s.DependsOn, ", ")))
	}
	return strings.Join(lines, "\n")
}

// Diagram renders the steps top to bottom.
func (p *Plan) Diagram() string {
	if p.IsEmpty() {
		return "(no steps)"
	}
	parts := make([]string, 0, 2*len(p.Steps))
	for i, s := range p.Steps {
		parts = append(parts, fmt.Sprintf("[%d] %s :: %s", i+1, s.ID, s.ToolKey))
		if i < len(p.Steps)-1 {
			parts = append(parts, "  |\n  v")
		}
	}
	return strings.Join(parts, "\n")
}
