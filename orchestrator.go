// Package orchestrator answers free-form questions by planning and running
// multi-step tool calls against a set of MCP tool servers.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/effective-security/xlog"
	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/eventbus"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator", "orchestrator")

// CouldNotDetermineMessage is the answer given when no tool can be routed.
const CouldNotDetermineMessage = "Router could not determine server/tool/arguments. Please rephrase your question."

// Orchestrator is the entry point for answering master questions.
type Orchestrator struct {
	capabilities CapabilityProvider
	servers      []ServerSpec
	planner      Planner
	sanitizer    Sanitizer
	executor     Executor
	reflector    Reflector
	humanizer    Humanizer
	output       OutputFilter
	router       DirectRouter
	eventBus     eventbus.EventBus
	ownsBus      bool

	asyncMu   sync.RWMutex
	asyncRuns map[string]*asyncRun

	config Config
}

// Components holds the collaborators handed to the state transitions.
type Components struct {
	Capabilities CapabilityProvider
	Servers      []ServerSpec
	Planner      Planner
	Sanitizer    Sanitizer
	Executor     Executor
	Reflector    Reflector
	Humanizer    Humanizer
	Output       OutputFilter
	Config       Config
}

// Config holds runtime switches of the pipeline.
type Config struct {
	// EnableReflection runs the reflector after execution.
	EnableReflection bool
	// ReportStalls appends a note naming steps that could not be scheduled.
	ReportStalls bool

	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EnableReflection:    true,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 2,
	}
}

// Option is a function that configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(o *Orchestrator) {
		o.config = config
	}
}

// WithCapabilities sets the capability provider.
func WithCapabilities(provider CapabilityProvider) Option {
	return func(o *Orchestrator) {
		o.capabilities = provider
	}
}

// WithServers sets the servers to discover, in order.
func WithServers(servers ...ServerSpec) Option {
	return func(o *Orchestrator) {
		o.servers = append(o.servers, servers...)
	}
}

// WithPlanner sets the planner.
func WithPlanner(planner Planner) Option {
	return func(o *Orchestrator) {
		o.planner = planner
	}
}

// WithSanitizer sets the plan sanitizer.
func WithSanitizer(sanitizer Sanitizer) Option {
	return func(o *Orchestrator) {
		o.sanitizer = sanitizer
	}
}

// WithExecutor sets the plan executor.
func WithExecutor(executor Executor) Option {
	return func(o *Orchestrator) {
		o.executor = executor
	}
}

// WithReflector sets the reflector.
func WithReflector(reflector Reflector) Option {
	return func(o *Orchestrator) {
		o.reflector = reflector
	}
}

// WithHumanizer sets the humanizer applied to summaries.
func WithHumanizer(humanizer Humanizer) Option {
	return func(o *Orchestrator) {
		o.humanizer = humanizer
	}
}

// WithOutputFilter sets the output policy applied to answers.
func WithOutputFilter(filter OutputFilter) Option {
	return func(o *Orchestrator) {
		o.output = filter
	}
}

// WithDirectRouter sets the single-shot router used by Route.
func WithDirectRouter(router DirectRouter) Option {
	return func(o *Orchestrator) {
		o.router = router
	}
}

// WithEventBus sets an externally owned event bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(o *Orchestrator) {
		o.eventBus = bus
	}
}

// New creates an Orchestrator. A capability provider, planner and executor
// are required.
func New(options ...Option) (*Orchestrator, error) {
	o := &Orchestrator{config: DefaultConfig(), asyncRuns: make(map[string]*asyncRun)}
	for _, option := range options {
		option(o)
	}

	if o.capabilities == nil {
		return nil, NewConfigurationError("capability provider is required", nil)
	}
	if o.planner == nil {
		return nil, NewConfigurationError("planner is required", nil)
	}
	if o.executor == nil {
		return nil, NewConfigurationError("executor is required", nil)
	}

	if o.config.EnableEventBus && o.eventBus == nil {
		o.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(o.config.EventBusBufferSize),
			eventbus.WithWorkerCount(o.config.EventBusWorkerCount),
		)
		o.ownsBus = true
	}
	return o, nil
}

// EventBus returns the bus events are published on, or nil.
func (o *Orchestrator) EventBus() eventbus.EventBus {
	if !o.config.EnableEventBus {
		return nil
	}
	return o.eventBus
}

// Close cancels background runs and releases the event bus if the
// orchestrator created it.
func (o *Orchestrator) Close() error {
	o.cancelAsyncRuns()
	if o.ownsBus && o.eventBus != nil {
		return o.eventBus.Close()
	}
	return nil
}

// Capabilities builds the capability graph for the configured servers.
func (o *Orchestrator) Capabilities(ctx context.Context) (*CapabilityGraph, error) {
	return o.capabilities.Capabilities(ctx, o.servers)
}

// PlanOnly discovers capabilities and returns the sanitized plan without
// executing it.
func (o *Orchestrator) PlanOnly(ctx context.Context, question string) (*Plan, *CapabilityGraph, error) {
	graph, err := o.Capabilities(ctx)
	if err != nil {
		return nil, nil, err
	}
	plan, err := o.planner.Plan(ctx, question, graph)
	if err != nil {
		return nil, graph, NewPlanGenerationError(err)
	}
	if o.sanitizer != nil {
		plan = o.sanitizer.Sanitize(question, plan, graph)
	}
	return plan, graph, nil
}

// Answer runs the full pipeline for question.
func (o *Orchestrator) Answer(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, NewValidationError("init", "question must not be empty", nil)
	}
	return o.run(ctx, NewProcessContext(uuid.New().String(), question))
}

// RunPlan executes a prepared plan, skipping the planner and the sanitizer.
// question is only used for argument synthesis and humanizing and may be
// empty.
func (o *Orchestrator) RunPlan(ctx context.Context, question string, plan *Plan) (*Answer, error) {
	if plan == nil || plan.IsEmpty() {
		return nil, NewValidationError("init", "plan has no steps", nil)
	}
	if err := plan.Validate(); err != nil {
		return nil, NewValidationError("init", "invalid plan", err)
	}
	pCtx := NewProcessContext(uuid.New().String(), strings.TrimSpace(question))
	pCtx.Plan = plan.Clone()
	pCtx.Preset = true
	return o.run(ctx, pCtx)
}

func (o *Orchestrator) run(ctx context.Context, pCtx *ProcessContext) (*Answer, error) {
	sm := CreateProcessStateMachine(o.components(), o.EventBus())
	text, err := sm.Execute(ctx, pCtx)

	answer := &Answer{
		RunID:     pCtx.RunID,
		Question:  pCtx.Question,
		Plan:      pCtx.Plan,
		Execution: pCtx.Execution,
		Text:      text,
		Duration:  pCtx.TotalDuration(),
	}
	logger.ContextKV(ctx, xlog.INFO,
		"status", "answered",
		"run_id", answer.RunID,
		"state", pCtx.CurrentState,
		"preset_plan", pCtx.Preset,
		"duration", answer.Duration.Round(time.Millisecond).String())
	return answer, err
}

// AnswerText is Answer returning only the final text.
func (o *Orchestrator) AnswerText(ctx context.Context, question string) (string, error) {
	answer, err := o.Answer(ctx, question)
	if err != nil {
		return "", err
	}
	return answer.Text, nil
}

// Route answers question with a single LLM-routed tool call.
func (o *Orchestrator) Route(ctx context.Context, question string) (string, error) {
	if o.router == nil {
		return "", NewConfigurationError("direct router is not configured", nil)
	}
	graph, err := o.Capabilities(ctx)
	if err != nil {
		return "", err
	}
	if graph.IsEmpty() {
		return CouldNotDetermineMessage, nil
	}
	text, err := o.router.Route(ctx, question, graph)
	if err != nil {
		return "", err
	}
	return o.applyOutput(text), nil
}

func (o *Orchestrator) applyOutput(text string) string {
	if o.output == nil {
		return text
	}
	return o.output.Apply(text)
}

func (o *Orchestrator) components() Components {
	return Components{
		Capabilities: o.capabilities,
		Servers:      o.servers,
		Planner:      o.planner,
		Sanitizer:    o.sanitizer,
		Executor:     o.executor,
		Reflector:    o.reflector,
		Humanizer:    o.humanizer,
		Output:       o.output,
		Config:       o.config,
	}
}
