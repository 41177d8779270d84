// Package registry builds the capability graph from tool server
// descriptions, either by asking the servers or from the static catalog.
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/catalog"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/eventbus"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "registry")

// Mode selects how capabilities are obtained.
type Mode string

const (
	// ModeStatic never contacts external servers; the catalog is authoritative.
	ModeStatic Mode = "static"
	// ModeLive asks every server for its tools and falls back to the catalog.
	ModeLive Mode = "live"
)

// ParseMode maps a configuration value to a Mode. Anything but "live" is static.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeLive)) {
		return ModeLive
	}
	return ModeStatic
}

// DefaultDiscoveryTimeout bounds the tool listing of a single server.
const DefaultDiscoveryTimeout = 10 * time.Second

// Lister returns the raw tool metadata a server advertises.
type Lister interface {
	ListTools(ctx context.Context, server orchestrator.ServerSpec) ([]any, error)
}

// Builder implements orchestrator.CapabilityProvider.
type Builder struct {
	lister   Lister
	catalog  *catalog.Catalog
	mode     Mode
	timeout  time.Duration
	eventBus eventbus.EventBus
}

// Option configures a Builder.
type Option func(*Builder)

// WithLister sets the component used to query servers in live mode and
// builtin servers in any mode.
func WithLister(l Lister) Option {
	return func(b *Builder) {
		b.lister = l
	}
}

// WithCatalog replaces the embedded catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(b *Builder) {
		if c != nil {
			b.catalog = c
		}
	}
}

// WithMode selects static or live discovery.
func WithMode(m Mode) Option {
	return func(b *Builder) {
		b.mode = m
	}
}

// WithDiscoveryTimeout bounds each server's listing.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithEventBus publishes discovery failures.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(b *Builder) {
		b.eventBus = bus
	}
}

// NewBuilder returns a static-mode builder over the embedded catalog.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		catalog: catalog.Default(),
		mode:    ModeStatic,
		timeout: DefaultDiscoveryTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Mode returns the configured discovery mode.
func (b *Builder) Mode() Mode {
	return b.mode
}

// Capabilities builds the graph for servers. Per-server failures are
// logged and replaced by catalog entries; the call itself only fails when
// ctx is done.
func (b *Builder) Capabilities(ctx context.Context, servers []orchestrator.ServerSpec) (*orchestrator.CapabilityGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, orchestrator.NewCancelledError("discovery", err)
	}

	discovered := make([][]orchestrator.ToolSchema, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, server := range servers {
		if !b.shouldList(server) {
			continue
		}
		g.Go(func() error {
			discovered[i] = b.list(gctx, server)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, orchestrator.NewCancelledError("discovery", err)
	}

	graph := orchestrator.NewCapabilityGraph()
	for i, server := range servers {
		tools := discovered[i]
		if len(tools) == 0 {
			tools = b.fallback(server)
		}
		if len(tools) == 0 {
			logger.ContextKV(ctx, xlog.DEBUG, "status", "no_tools", "server", server.Key)
			continue
		}
		server.Tools = tools
		graph.AddServer(server)
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "capabilities_built",
		"mode", b.mode,
		"servers", graph.Servers.Len(),
		"tools", graph.Len())
	return graph, nil
}

func (b *Builder) shouldList(server orchestrator.ServerSpec) bool {
	if b.lister == nil {
		return false
	}
	if server.IsBuiltin() {
		return true
	}
	return b.mode == ModeLive
}

func (b *Builder) list(ctx context.Context, server orchestrator.ServerSpec) []orchestrator.ToolSchema {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	raw, err := b.lister.ListTools(ctx, server)
	if err != nil {
		derr := orchestrator.NewDiscoveryError(server.Key, err)
		logger.ContextKV(ctx, xlog.WARNING, "status", "discovery_failed", "server", server.Key, "err", derr.Error())
		eventbus.Emit(context.WithoutCancel(ctx), b.eventBus, eventbus.EventDiscoveryServerFailure,
			derr.Error(), "Registry.Discover", map[string]any{"server": server.Key})
		return nil
	}

	tools := make([]orchestrator.ToolSchema, 0, len(raw))
	for _, meta := range raw {
		tools = append(tools, CoerceSchema(meta))
	}
	return tools
}

// fallback returns the statically known tools of a server: its own
// declared tools first, then the catalog entry. Any key mentioning tiktok
// shares the "tiktok" entry.
func (b *Builder) fallback(server orchestrator.ServerSpec) []orchestrator.ToolSchema {
	if len(server.Tools) > 0 {
		return server.Tools
	}
	if tools, ok := b.catalog.Tools(server.Key); ok {
		return tools
	}
	if strings.Contains(strings.ToLower(server.Key), "tiktok") {
		if tools, ok := b.catalog.Tools("tiktok"); ok {
			return tools
		}
	}
	return nil
}
