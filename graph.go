package orchestrator

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CapabilityGraph is the set of servers and tools known for one request.
// It is built once and only read afterwards.
type CapabilityGraph struct {
	Servers *orderedmap.OrderedMap[string, ServerSpec]
	Tools   *orderedmap.OrderedMap[string, ToolSpec]
}

// NewCapabilityGraph returns an empty graph.
func NewCapabilityGraph() *CapabilityGraph {
	return &CapabilityGraph{
		Servers: orderedmap.New[string, ServerSpec](),
		Tools:   orderedmap.New[string, ToolSpec](),
	}
}

// AddServer registers a server and every tool it lists. Tools keep the
// order of server.Tools; a repeated key keeps its first position.
func (g *CapabilityGraph) AddServer(server ServerSpec) {
	g.Servers.Set(server.Key, server)
	for _, schema := range server.Tools {
		spec := ToolSpec{ServerKey: server.Key, ToolName: schema.Name, Schema: schema}
		g.Tools.Set(spec.Key(), spec)
	}
}

// Tool looks up a tool by "<server>.<tool>".
func (g *CapabilityGraph) Tool(key string) (ToolSpec, bool) {
	if g == nil || g.Tools == nil {
		return ToolSpec{}, false
	}
	return g.Tools.Get(key)
}

// HasTool reports whether key is present.
func (g *CapabilityGraph) HasTool(key string) bool {
	_, ok := g.Tool(key)
	return ok
}

// Server looks up a server by key.
func (g *CapabilityGraph) Server(key string) (ServerSpec, bool) {
	if g == nil || g.Servers == nil {
		return ServerSpec{}, false
	}
	return g.Servers.Get(key)
}

// ToolList returns the tools in graph order.
func (g *CapabilityGraph) ToolList() []ToolSpec {
	if g == nil || g.Tools == nil {
		return nil
	}
	out := make([]ToolSpec, 0, g.Tools.Len())
	for pair := g.Tools.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// ToolKeys returns the tool keys in graph order.
func (g *CapabilityGraph) ToolKeys() []string {
	tools := g.ToolList()
	keys := make([]string, len(tools))
	for i, t := range tools {
		keys[i] = t.Key()
	}
	return keys
}

// ServerKeys returns the server keys in registration order.
func (g *CapabilityGraph) ServerKeys() []string {
	if g == nil || g.Servers == nil {
		return nil
	}
	keys := make([]string, 0, g.Servers.Len())
	for pair := g.Servers.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Len returns the number of tools.
func (g *CapabilityGraph) Len() int {
	if g == nil || g.Tools == nil {
		return 0
	}
	return g.Tools.Len()
}

// IsEmpty reports whether the graph has no tools.
func (g *CapabilityGraph) IsEmpty() bool {
	return g.Len() == 0
}

// FindByToolName returns the first tool named name on a server whose key
// contains serverHint. An empty hint matches any server.
func (g *CapabilityGraph) FindByToolName(name, serverHint string) (ToolSpec, bool) {
	for _, t := range g.ToolList() {
		if t.ToolName == name && strings.Contains(strings.ToLower(t.ServerKey), serverHint) {
			return t, true
		}
	}
	return ToolSpec{}, false
}

// Catalog renders one "- server.tool(p:type, ...)" line per tool.
func (g *CapabilityGraph) Catalog() string {
	tools := g.ToolList()
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		lines = append(lines, "- "+t.Schema.Signature(t.Key()))
	}
	return strings.Join(lines, "\n")
}
