package adapters

import (
	"context"

	"github.com/cockroachdb/errors"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

// ToolFunc is the Go function behind an in-process tool.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// GoToolAdapter adapts a Go function to a tool served by a LocalServer.
type GoToolAdapter struct {
	toolFunc    ToolFunc
	name        string
	description string
	params      []orchestrator.Param
	validator   func(map[string]any) error
}

// ToolOption represents an option for configuring a GoToolAdapter.
type ToolOption func(*GoToolAdapter)

// WithValidator sets a custom validator function for the tool.
func WithValidator(validator func(map[string]any) error) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.validator = validator
	}
}

// WithDescription sets a detailed description for the tool.
func WithDescription(description string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.description = description
	}
}

// WithParameters declares the tool parameters in order.
func WithParameters(params ...orchestrator.Param) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.params = append(adapter.params, params...)
	}
}

// NewGoToolAdapter creates a new adapter for a Go function. The default
// validator requires every declared parameter to be present.
func NewGoToolAdapter(name string, toolFunc ToolFunc, options ...ToolOption) *GoToolAdapter {
	adapter := &GoToolAdapter{
		toolFunc: toolFunc,
		name:     name,
	}
	adapter.validator = adapter.requireDeclared

	for _, option := range options {
		option(adapter)
	}
	return adapter
}

func (a *GoToolAdapter) requireDeclared(input map[string]any) error {
	for _, p := range a.params {
		if _, ok := input[p.Name]; !ok {
			return errors.Newf("missing argument %q", p.Name)
		}
	}
	return nil
}

// Execute validates input and runs the tool function.
func (a *GoToolAdapter) Execute(ctx context.Context, input map[string]any) (any, error) {
	if a.toolFunc == nil {
		return nil, errors.New("tool function is nil")
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := a.Validate(input); err != nil {
		return nil, errors.Wrapf(err, "input validation failed for %s", a.name)
	}
	return a.toolFunc(ctx, input)
}

// Schema describes the tool for the capability graph.
func (a *GoToolAdapter) Schema() orchestrator.ToolSchema {
	return orchestrator.NewToolSchema(a.name, a.description, a.params...)
}

// Validate runs the configured validator.
func (a *GoToolAdapter) Validate(input map[string]any) error {
	if a.validator != nil {
		return a.validator(input)
	}
	return nil
}

// Name returns the tool name.
func (a *GoToolAdapter) Name() string {
	return a.name
}
