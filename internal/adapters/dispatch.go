package adapters

import (
	"context"

	"github.com/cockroachdb/errors"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

// Dispatcher routes listing and invocation to the in-process host for
// builtin servers and to the MCP client for everything else.
type Dispatcher struct {
	local  *LocalServers
	remote *MCPClient
}

// NewDispatcher returns a dispatcher. Either side may be nil.
func NewDispatcher(local *LocalServers, remote *MCPClient) *Dispatcher {
	return &Dispatcher{local: local, remote: remote}
}

func (d *Dispatcher) isLocal(server orchestrator.ServerSpec) bool {
	return server.IsBuiltin() || (d.local != nil && server.Command == "" && d.local.Has(server.Key))
}

// ListTools implements registry.Lister.
func (d *Dispatcher) ListTools(ctx context.Context, server orchestrator.ServerSpec) ([]any, error) {
	if d.isLocal(server) {
		if d.local == nil {
			return nil, errors.Newf("no local host for builtin server %s", server.Key)
		}
		return d.local.ListTools(ctx, server)
	}
	if d.remote == nil {
		return nil, errors.Newf("no MCP client configured for %s", server.Key)
	}
	return d.remote.ListTools(ctx, server)
}

// Invoke implements orchestrator.ToolInvoker.
func (d *Dispatcher) Invoke(ctx context.Context, server orchestrator.ServerSpec, tool string, args map[string]any) (*orchestrator.ToolResult, error) {
	if d.isLocal(server) {
		if d.local == nil {
			return nil, errors.Newf("no local host for builtin server %s", server.Key)
		}
		return d.local.Invoke(ctx, server, tool, args)
	}
	if d.remote == nil {
		return nil, errors.Newf("no MCP client configured for %s", server.Key)
	}
	return d.remote.Invoke(ctx, server, tool, args)
}

// Close releases remote sessions.
func (d *Dispatcher) Close() error {
	if d.remote == nil {
		return nil
	}
	return d.remote.Close()
}
