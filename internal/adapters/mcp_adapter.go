package adapters

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "adapters")

// MCPOptions configures the stdio MCP client.
type MCPOptions struct {
	ClientName    string
	ClientVersion string
	// InitTimeout bounds process start plus the initialize handshake.
	InitTimeout time.Duration
	// Reuse keeps one session per server alive across calls. When false
	// every call spawns and closes its own process.
	Reuse bool
}

// MCPClient talks to tool servers over MCP stdio transport. It implements
// registry.Lister and orchestrator.ToolInvoker.
type MCPClient struct {
	client *mcp.Client
	opts   MCPOptions

	mu       sync.Mutex
	sessions map[string]*mcp.ClientSession
}

// NewMCPClient returns a client; processes are spawned on first use.
func NewMCPClient(opts MCPOptions) *MCPClient {
	if opts.ClientName == "" {
		opts.ClientName = "mcp-orchestrator"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "dev"
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 15 * time.Second
	}
	return &MCPClient{
		client:   mcp.NewClient(&mcp.Implementation{Name: opts.ClientName, Version: opts.ClientVersion}, nil),
		opts:     opts,
		sessions: make(map[string]*mcp.ClientSession),
	}
}

// ListTools returns the advertised tools as metadata maps with name,
// description and the raw JSON input schema.
func (c *MCPClient) ListTools(ctx context.Context, server orchestrator.ServerSpec) ([]any, error) {
	session, release, err := c.session(ctx, server)
	if err != nil {
		return nil, err
	}
	res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	release(err)
	if err != nil {
		return nil, errors.Wrapf(err, "list tools on %s", server.Key)
	}

	out := make([]any, 0, len(res.Tools))
	for _, t := range res.Tools {
		if t == nil {
			continue
		}
		meta := map[string]any{"name": t.Name, "description": t.Description}
		if t.InputSchema != nil {
			raw, err := json.Marshal(t.InputSchema)
			if err == nil {
				meta["inputSchema"] = json.RawMessage(raw)
			}
		}
		out = append(out, meta)
	}
	return out, nil
}

// Invoke calls tool on server. A result flagged IsError is returned with a
// nil error; the caller decides how to treat it.
func (c *MCPClient) Invoke(ctx context.Context, server orchestrator.ServerSpec, tool string, args map[string]any) (*orchestrator.ToolResult, error) {
	session, release, err := c.session(ctx, server)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	release(err)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s.%s", server.Key, tool)
	}
	return convertResult(res), nil
}

// Close terminates every pooled server process.
func (c *MCPClient) Close() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*mcp.ClientSession)
	c.mu.Unlock()

	var errs error
	for key, s := range sessions {
		if err := s.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "close %s", key))
		}
	}
	return errs
}

// session returns a connected session for server and a release func that
// must be called with the outcome of the request. Failed pooled sessions
// are evicted so the next call reconnects.
func (c *MCPClient) session(ctx context.Context, server orchestrator.ServerSpec) (*mcp.ClientSession, func(error), error) {
	if server.Command == "" {
		return nil, nil, errors.Newf("server %s has no command", server.Key)
	}

	if !c.opts.Reuse {
		s, err := c.connect(ctx, server)
		if err != nil {
			return nil, nil, err
		}
		return s, func(error) { _ = s.Close() }, nil
	}

	c.mu.Lock()
	s, ok := c.sessions[server.Key]
	c.mu.Unlock()
	if ok {
		return s, c.evictOnError(server.Key, s), nil
	}

	s, err := c.connect(ctx, server)
	if err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	if existing, ok := c.sessions[server.Key]; ok {
		c.mu.Unlock()
		_ = s.Close()
		return existing, c.evictOnError(server.Key, existing), nil
	}
	c.sessions[server.Key] = s
	c.mu.Unlock()
	return s, c.evictOnError(server.Key, s), nil
}

func (c *MCPClient) evictOnError(key string, s *mcp.ClientSession) func(error) {
	return func(err error) {
		if err == nil {
			return
		}
		c.mu.Lock()
		if cur, ok := c.sessions[key]; ok && cur == s {
			delete(c.sessions, key)
		}
		c.mu.Unlock()
		_ = s.Close()
	}
}

func (c *MCPClient) connect(ctx context.Context, server orchestrator.ServerSpec) (*mcp.ClientSession, error) {
	cmd := exec.Command(server.Command, server.Args...)
	if len(server.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(server.Env)...)
	}

	initCtx, cancel := context.WithTimeout(ctx, c.opts.InitTimeout)
	defer cancel()

	start := time.Now()
	s, err := c.client.Connect(initCtx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s (%s)", server.Key, server.Command)
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "mcp_connected",
		"server", server.Key,
		"elapsed", time.Since(start).String())
	return s, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func convertResult(res *mcp.CallToolResult) *orchestrator.ToolResult {
	out := &orchestrator.ToolResult{}
	if res == nil {
		return out
	}
	out.IsError = res.IsError
	out.Structured = res.StructuredContent
	for _, c := range res.Content {
		switch v := c.(type) {
		case *mcp.TextContent:
			out.Content = append(out.Content, orchestrator.TextItem(v.Text))
		case *mcp.ImageContent:
			out.Content = append(out.Content, orchestrator.ContentItem{Type: "image", Raw: v})
		case *mcp.AudioContent:
			out.Content = append(out.Content, orchestrator.ContentItem{Type: "audio", Raw: v})
		case *mcp.EmbeddedResource:
			item := orchestrator.ContentItem{Type: "resource", Raw: v}
			if v.Resource != nil && v.Resource.Text != "" {
				text := v.Resource.Text
				item.Text = &text
			}
			out.Content = append(out.Content, item)
		default:
			out.Content = append(out.Content, orchestrator.ContentItem{Type: "unknown", Raw: c})
		}
	}
	return out
}
