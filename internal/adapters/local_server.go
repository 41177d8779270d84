package adapters

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llmjson"
)

// LocalServers hosts in-process tool servers. It implements
// registry.Lister and orchestrator.ToolInvoker for builtin servers.
type LocalServers struct {
	mu      sync.RWMutex
	servers *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, *GoToolAdapter]]
}

// NewLocalServers returns an empty host.
func NewLocalServers() *LocalServers {
	return &LocalServers{
		servers: orderedmap.New[string, *orderedmap.OrderedMap[string, *GoToolAdapter]](),
	}
}

// Register adds tools under serverKey. Re-registering a tool replaces it
// in place.
func (l *LocalServers) Register(serverKey string, tools ...*GoToolAdapter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	server, ok := l.servers.Get(serverKey)
	if !ok {
		server = orderedmap.New[string, *GoToolAdapter]()
		l.servers.Set(serverKey, server)
	}
	for _, t := range tools {
		server.Set(t.Name(), t)
	}
}

// Has reports whether serverKey is hosted here.
func (l *LocalServers) Has(serverKey string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.servers.Get(serverKey)
	return ok
}

// Spec returns the builtin ServerSpec for a hosted server.
func (l *LocalServers) Spec(serverKey string) (orchestrator.ServerSpec, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	server, ok := l.servers.Get(serverKey)
	if !ok {
		return orchestrator.ServerSpec{}, false
	}
	spec := orchestrator.ServerSpec{Key: serverKey, Transport: orchestrator.TransportBuiltin}
	for pair := server.Oldest(); pair != nil; pair = pair.Next() {
		spec.Tools = append(spec.Tools, pair.Value.Schema())
	}
	return spec, true
}

// ListTools returns the tool schemas of a hosted server.
func (l *LocalServers) ListTools(_ context.Context, server orchestrator.ServerSpec) ([]any, error) {
	spec, ok := l.Spec(server.Key)
	if !ok {
		return nil, errors.Newf("no local server %q", server.Key)
	}
	out := make([]any, 0, len(spec.Tools))
	for _, t := range spec.Tools {
		out = append(out, t)
	}
	return out, nil
}

// Invoke runs a hosted tool. Tool errors are reported as an IsError
// result, the way a remote server reports them.
func (l *LocalServers) Invoke(ctx context.Context, server orchestrator.ServerSpec, tool string, args map[string]any) (*orchestrator.ToolResult, error) {
	l.mu.RLock()
	srv, ok := l.servers.Get(server.Key)
	var adapter *GoToolAdapter
	if ok {
		adapter, ok = srv.Get(tool)
	}
	l.mu.RUnlock()
	if !ok {
		return nil, errors.Newf("unknown tool %s", orchestrator.ToolKey(server.Key, tool))
	}

	value, err := adapter.Execute(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return &orchestrator.ToolResult{
			Content: []orchestrator.ContentItem{orchestrator.TextItem(err.Error())},
			IsError: true,
		}, nil
	}
	return &orchestrator.ToolResult{
		Content:    []orchestrator.ContentItem{orchestrator.TextItem(RenderValue(value))},
		Structured: value,
	}, nil
}

// RenderValue renders a tool return value as text. Floats always carry a
// fractional part or exponent, so 42 renders as "42.0".
func RenderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return FormatFloat(t)
	case float32:
		return FormatFloat(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	s, err := llmjson.Compact(v)
	if err != nil {
		return ""
	}
	return s
}

// FormatFloat renders f with the shortest representation that reads back
// as f, in positional notation for 1e-4 <= |f| < 1e16.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}
