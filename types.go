package orchestrator

import (
	"strings"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamList    ParamType = "list"
)

// ParseParamType normalizes the type names used by tool servers and catalogs.
// Unknown names map to ParamString.
func ParseParamType(name string) ParamType {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == "number" || n == "float" || n == "double":
		return ParamNumber
	case n == "integer" || n == "int":
		return ParamInteger
	case n == "boolean" || n == "bool":
		return ParamBoolean
	case n == "object" || n == "dict" || n == "map" || n == "json":
		return ParamObject
	case n == "list" || n == "array" || strings.HasPrefix(n, "list[") ||
		strings.HasPrefix(n, "array[") || strings.HasPrefix(n, "tuple"):
		return ParamList
	default:
		return ParamString
	}
}

// Param is one named, typed tool parameter.
type Param struct {
	Name string
	Type ParamType
}

// ToolSchema describes a single tool exposed by a server. Parameter order is
// the order the server declared them in.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  *orderedmap.OrderedMap[string, ParamType]
}

// NewToolSchema builds a schema with the parameters in the given order.
func NewToolSchema(name, description string, params ...Param) ToolSchema {
	om := orderedmap.New[string, ParamType]()
	for _, p := range params {
		om.Set(p.Name, p.Type)
	}
	return ToolSchema{Name: name, Description: description, Parameters: om}
}

// Params returns the declared parameters in order.
func (s ToolSchema) Params() []Param {
	if s.Parameters == nil {
		return nil
	}
	out := make([]Param, 0, s.Parameters.Len())
	for pair := s.Parameters.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Param{Name: pair.Key, Type: pair.Value})
	}
	return out
}

// ParamType reports the declared type of name.
func (s ToolSchema) ParamType(name string) (ParamType, bool) {
	if s.Parameters == nil {
		return "", false
	}
	return s.Parameters.Get(name)
}

// HasParams reports whether the tool declares any parameter.
func (s ToolSchema) HasParams() bool {
	return s.Parameters != nil && s.Parameters.Len() > 0
}

// Signature renders "name(p:type, ...)" for prompts and listings.
func (s ToolSchema) Signature(prefix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("(")
	for i, p := range s.Params() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(":")
		b.WriteString(string(p.Type))
	}
	b.WriteString(")")
	return b.String()
}

// ToolSpec binds a schema to the server that exposes it.
type ToolSpec struct {
	ServerKey string
	ToolName  string
	Schema    ToolSchema
}

// Key returns the graph key "<server>.<tool>".
func (t ToolSpec) Key() string {
	return ToolKey(t.ServerKey, t.ToolName)
}

// ToolKey joins a server key and tool name.
func ToolKey(server, tool string) string {
	return server + "." + tool
}

// SplitToolKey splits "<server>.<tool>" at the first dot.
func SplitToolKey(key string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(key, ".")
	return server, tool, ok && server != "" && tool != ""
}

// Transport selects how a server is reached.
type Transport string

const (
	// TransportStdio spawns Command and speaks MCP over its stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportBuiltin routes calls to an in-process server.
	TransportBuiltin Transport = "builtin"
)

// ServerSpec is the invocation handle of a tool server plus its known tools.
type ServerSpec struct {
	Key       string
	Command   string
	Args      []string
	Env       map[string]string
	Transport Transport
	Tools     []ToolSchema
}

// IsBuiltin reports whether the server is served in-process.
func (s ServerSpec) IsBuiltin() bool {
	return s.Transport == TransportBuiltin
}

// StepStatus tracks a plan step through one execution.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepReady   StepStatus = "ready"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
	// StepSkipped marks steps left unscheduled because their dependencies
	// could never be satisfied.
	StepSkipped StepStatus = "skipped"
)

// ContentItem is one item of a tool response.
type ContentItem struct {
	Type string
	Text *string
	JSON any
	Raw  any
}

// TextItem is a convenience constructor for a text content item.
func TextItem(text string) ContentItem {
	return ContentItem{Type: "text", Text: &text}
}

// ToolResult is the response of a single tool invocation.
type ToolResult struct {
	Content    []ContentItem
	Structured any
	IsError    bool
}

// ExecutionResult holds the per-step outputs of one plan execution.
type ExecutionResult struct {
	Steps    map[string]string
	Order    []string
	Statuses map[string]StepStatus
	Stalled  []string
	Summary  string

	mu sync.RWMutex
}

// NewExecutionResult prepares an empty result for the given plan.
func NewExecutionResult(plan *Plan) *ExecutionResult {
	r := &ExecutionResult{
		Steps:    make(map[string]string),
		Statuses: make(map[string]StepStatus),
	}
	if plan != nil {
		for _, s := range plan.Steps {
			if _, dup := r.Statuses[s.ID]; dup {
				continue
			}
			r.Order = append(r.Order, s.ID)
			r.Statuses[s.ID] = StepPending
		}
	}
	return r
}

// Get returns the recorded output of a step.
func (r *ExecutionResult) Get(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.Steps[id]
	return v, ok
}

// Set records the final output of a step.
func (r *ExecutionResult) Set(id, value string, status StepStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps[id] = value
	r.Statuses[id] = status
}

// SetStatus updates the status of a step without touching its output.
func (r *ExecutionResult) SetStatus(id string, status StepStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Statuses[id] = status
}

// Status returns the current status of a step.
func (r *ExecutionResult) Status(id string) StepStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Statuses[id]
}

// Snapshot returns a copy of the outputs recorded so far.
func (r *ExecutionResult) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.Steps))
	for k, v := range r.Steps {
		out[k] = v
	}
	return out
}

// Summarize joins the recorded outputs in plan order and stores the summary.
func (r *ExecutionResult) Summarize() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	parts := make([]string, 0, len(r.Steps))
	for _, id := range r.Order {
		if v, ok := r.Steps[id]; ok {
			parts = append(parts, v)
		}
	}
	r.Summary = strings.Join(parts, "\n\n")
	return r.Summary
}

// Answer is the outcome of answering one master question.
type Answer struct {
	RunID     string
	Question  string
	Plan      *Plan
	Execution *ExecutionResult
	Text      string
	Duration  time.Duration
}
