package orchestrator

import "context"

// CapabilityProvider builds the capability graph for a set of servers.
type CapabilityProvider interface {
	Capabilities(ctx context.Context, servers []ServerSpec) (*CapabilityGraph, error)
}

// Planner turns a master question into a plan over the graph.
type Planner interface {
	Plan(ctx context.Context, question string, graph *CapabilityGraph) (*Plan, error)
}

// Sanitizer applies the deterministic post-planning rewrites.
type Sanitizer interface {
	Sanitize(question string, plan *Plan, graph *CapabilityGraph) *Plan
}

// Executor runs a plan and collects per-step outputs.
type Executor interface {
	Execute(ctx context.Context, graph *CapabilityGraph, plan *Plan, question string) (*ExecutionResult, error)
}

// ToolInvoker calls one tool on one server.
type ToolInvoker interface {
	Invoke(ctx context.Context, server ServerSpec, tool string, args map[string]any) (*ToolResult, error)
}

// ArgumentSynthesizer produces the concrete, typed arguments for a step.
// results holds the outputs of already completed steps.
type ArgumentSynthesizer interface {
	Synthesize(ctx context.Context, question string, step PlanStep, spec ToolSpec, results map[string]string) (map[string]any, error)
}

// CompletionRequest is a single system+user chat turn.
type CompletionRequest struct {
	System string
	User   string
	Model  string
	// JSON asks the provider for a JSON object response when supported.
	JSON bool
}

// Completer is the minimal LLM surface the pipeline needs.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Reflector inspects an execution and may run follow-up work.
type Reflector interface {
	NeedsFollowUp(results map[string]string) bool
	Reflect(ctx context.Context, question string, graph *CapabilityGraph, previous *ExecutionResult) (*ExecutionResult, error)
}

// Humanizer rewrites a raw summary into prose. Implementations return the
// summary unchanged on failure.
type Humanizer interface {
	Humanize(ctx context.Context, question, summary string) string
}

// OutputFilter applies an output encoding policy to the final text.
type OutputFilter interface {
	Apply(text string) string
}

// DirectRouter answers a question with a single routed tool call.
type DirectRouter interface {
	Route(ctx context.Context, question string, graph *CapabilityGraph) (string, error)
}

// CredentialProvider refreshes third-party credentials for a server.
type CredentialProvider interface {
	Refresh(ctx context.Context, serverKey string) error
}

// Cache provides storage for frequently accessed data, like LLM completions.
type Cache interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) error
}
