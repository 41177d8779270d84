package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/adapters"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/cache"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/catalog"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/config"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/eventbus"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/executor"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/format"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llm"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/planner"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/reflection"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/registry"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/synth"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/tools"
)

// runtimeOptions are per-command switches layered over the configuration.
type runtimeOptions struct {
	needLLM  bool
	humanize bool
	ascii    bool
	trace    io.Writer
}

// runtime owns everything one command invocation needs.
type runtime struct {
	cfg        *config.Config
	orch       *orchestrator.Orchestrator
	completer  orchestrator.Completer
	dispatcher *adapters.Dispatcher
	bus        *eventbus.ChannelEventBus
	closers    []io.Closer
}

func newRuntime(ctx context.Context, flags *globalFlags, opts runtimeOptions) (*runtime, error) {
	if err := config.LoadDotEnv(flags.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.configPath, flagOverrides(flags))
	if err != nil {
		return nil, err
	}

	r := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = r.Close()
		}
	}()

	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		if cat, err = catalog.Load(cfg.CatalogFile); err != nil {
			return nil, orchestrator.NewConfigurationError("failed to load catalog", err)
		}
	}

	local := adapters.NewLocalServers()
	servers, err := resolveServers(cfg.ServerSpecs(), local)
	if err != nil {
		return nil, err
	}
	remote := adapters.NewMCPClient(adapters.MCPOptions{
		ClientName:    "mcp-orchestrator",
		ClientVersion: version,
		InitTimeout:   cfg.Discovery.Timeout,
		Reuse:         true,
	})
	r.dispatcher = adapters.NewDispatcher(local, remote)
	r.closers = append(r.closers, r.dispatcher)

	oc := cfg.OrchestratorConfig()
	r.bus = eventbus.NewChannelEventBus(
		eventbus.WithBufferSize(oc.EventBusBufferSize),
		eventbus.WithWorkerCount(oc.EventBusWorkerCount),
	)
	r.closers = append(r.closers, r.bus)
	if opts.trace != nil {
		if _, err := r.bus.SubscribeAll(traceHandler(opts.trace)); err != nil {
			return nil, err
		}
	}

	if !flags.offline {
		r.completer, err = r.newCompleter(ctx)
		if err != nil {
			if opts.needLLM {
				return nil, err
			}
			logger.KV(xlog.WARNING, "status", "llm_unavailable", "err", err.Error())
		}
	} else if opts.needLLM {
		return nil, orchestrator.NewConfigurationError("this command needs a language model; drop --offline", nil)
	}

	builder := registry.NewBuilder(append(cfg.RegistryOptions(),
		registry.WithLister(r.dispatcher),
		registry.WithCatalog(cat),
		registry.WithEventBus(r.bus),
	)...)

	model := cfg.LLM.Model
	heuristic := planner.NewHeuristic()
	var plan orchestrator.Planner = heuristic
	if r.completer != nil {
		plan = planner.NewRouter(
			planner.NewLLM(r.completer, planner.WithFallback(heuristic), planner.WithModel(model)),
			heuristic,
		)
	}
	exec := executor.NewExecutor(
		synth.New(r.completer, synth.WithModel(model)),
		r.dispatcher,
		append(cfg.ExecutorOptions(), executor.WithEventBus(r.bus))...,
	)

	options := []orchestrator.Option{
		orchestrator.WithConfig(oc),
		orchestrator.WithCapabilities(builder),
		orchestrator.WithServers(servers...),
		orchestrator.WithPlanner(plan),
		orchestrator.WithSanitizer(planner.NewSanitizer()),
		orchestrator.WithExecutor(exec),
		orchestrator.WithReflector(reflection.NewHeuristic()),
		orchestrator.WithEventBus(r.bus),
	}
	if r.completer != nil {
		options = append(options, orchestrator.WithDirectRouter(planner.NewDirect(r.completer, r.dispatcher, model)))
		if cfg.Output.Humanize || opts.humanize {
			options = append(options, orchestrator.WithHumanizer(format.NewHumanizer(r.completer, model)))
		}
	}
	if cfg.Output.ASCIIOnly || opts.ascii {
		options = append(options, orchestrator.WithOutputFilter(format.ASCIIPolicy{Replacement: cfg.Output.Replacement}))
	}

	r.orch, err = orchestrator.New(options...)
	if err != nil {
		return nil, err
	}
	ok = true
	return r, nil
}

func flagOverrides(flags *globalFlags) config.Override {
	return func(c *config.Config) {
		if flags.model != "" {
			c.LLM.Model = flags.model
		}
		switch {
		case flags.static:
			c.Discovery.Mode = string(registry.ModeStatic)
		case flags.live:
			c.Discovery.Mode = string(registry.ModeLive)
		}
	}
}

func (r *runtime) newCompleter(ctx context.Context) (orchestrator.Completer, error) {
	var store orchestrator.Cache
	if ttl := r.cfg.LLM.CacheTTL; ttl > 0 {
		if r.cfg.LLM.CacheFile != "" {
			fc, err := cache.NewFilePersistentCache(ttl, r.cfg.LLM.CacheFile)
			if err != nil {
				return nil, orchestrator.NewConfigurationError("failed to open completion cache", err)
			}
			r.closers = append(r.closers, fc)
			store = fc
		} else {
			mc := cache.NewInMemoryCache(ttl)
			r.closers = append(r.closers, mc)
			store = mc
		}
	}
	return llm.New(ctx, r.cfg.LLMOptions(store))
}

// resolveServers hosts the builtin servers on local and returns the specs
// in configuration order.
func resolveServers(specs []orchestrator.ServerSpec, local *adapters.LocalServers) ([]orchestrator.ServerSpec, error) {
	out := make([]orchestrator.ServerSpec, 0, len(specs))
	for _, s := range specs {
		if !s.IsBuiltin() {
			out = append(out, s)
			continue
		}
		switch s.Key {
		case tools.ArithmeticServer:
			out = append(out, tools.SetupArithmetic(local))
		default:
			return nil, orchestrator.NewConfigurationError(fmt.Sprintf("unknown builtin server '%s'", s.Key), nil)
		}
	}
	return out, nil
}

// traceHandler prints one line per event. Bus workers call it
// concurrently, so writes are serialized.
func traceHandler(w io.Writer) eventbus.EventHandler {
	var mu sync.Mutex
	return func(_ context.Context, evt eventbus.Event) error {
		ts := time.Unix(0, evt.Timestamp()).Format("15:04:05.000")
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintf(w, "[trace] %s %-32s %-28s %v\n", ts, evt.Type(), evt.Source(), evt.Payload())
		return err
	}
}

// Close releases servers, caches and the event bus.
func (r *runtime) Close() error {
	var errs error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	r.closers = nil
	return errs
}
