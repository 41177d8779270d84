// Package executor runs plans batch by batch, respecting step dependencies.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/sourcegraph/conc/pool"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/eventbus"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/format"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "executor")

const (
	DefaultMaxConcurrency = 8
	DefaultStepTimeout    = 20 * time.Second
	DefaultMaxRetries     = 1

	// ErrorPrefix marks a step output that records a failure.
	ErrorPrefix = "ERROR: "

	eventSource = "executor"
)

// Executor schedules the ready steps of a plan in concurrent batches.
type Executor struct {
	synth       orchestrator.ArgumentSynthesizer
	invoker     orchestrator.ToolInvoker
	credentials orchestrator.CredentialProvider
	bus         eventbus.EventBus

	maxConcurrency int
	maxRetries     int
	retryDelay     time.Duration
	stepTimeout    time.Duration

	lastMu sync.Mutex
	last   ExecutorMetrics
}

// ExecutorOption represents an option for configuring the Executor.
type ExecutorOption func(*Executor)

// WithMaxConcurrency bounds the number of steps running at once.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithMaxRetries sets the number of extra attempts after a failed one.
func WithMaxRetries(retries int) ExecutorOption {
	return func(e *Executor) {
		if retries >= 0 {
			e.maxRetries = retries
		}
	}
}

// WithRetryDelay sets the delay between attempts.
func WithRetryDelay(delay time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.retryDelay = delay
	}
}

// WithStepTimeout sets the per-attempt invocation timeout.
func WithStepTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		if timeout > 0 {
			e.stepTimeout = timeout
		}
	}
}

// WithCredentials sets the provider asked to refresh a server's
// credentials after an unauthorized failure.
func WithCredentials(c orchestrator.CredentialProvider) ExecutorOption {
	return func(e *Executor) {
		e.credentials = c
	}
}

// WithEventBus publishes step and batch events on bus.
func WithEventBus(bus eventbus.EventBus) ExecutorOption {
	return func(e *Executor) {
		e.bus = bus
	}
}

// NewExecutor returns an executor. Without a synthesizer each step is
// invoked with its argument hint as is.
func NewExecutor(synth orchestrator.ArgumentSynthesizer, invoker orchestrator.ToolInvoker, options ...ExecutorOption) *Executor {
	e := &Executor{
		synth:          synth,
		invoker:        invoker,
		maxConcurrency: DefaultMaxConcurrency,
		maxRetries:     DefaultMaxRetries,
		stepTimeout:    DefaultStepTimeout,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Execute implements orchestrator.Executor. Steps become ready once every
// id they depend on has a recorded output; failed steps record an
// ERROR-prefixed output and so still unblock their dependents. Steps that
// can never become ready are marked skipped and listed in Stalled.
func (e *Executor) Execute(ctx context.Context, graph *orchestrator.CapabilityGraph, plan *orchestrator.Plan, question string) (*orchestrator.ExecutionResult, error) {
	if e.invoker == nil {
		return nil, orchestrator.NewConfigurationError("executor needs a tool invoker", nil)
	}
	result := orchestrator.NewExecutionResult(plan)
	metrics := &ExecutorMetrics{}
	start := time.Now()
	defer func() {
		metrics.finish(time.Since(start))
		e.lastMu.Lock()
		e.last = metrics.Copy()
		e.lastMu.Unlock()
	}()

	pending := uniqueSteps(plan)
	priority := criticalPaths(pending)

	logger.ContextKV(ctx, xlog.INFO, "status", "execution_started", "steps", len(pending))
	eventbus.Emit(ctx, e.bus, eventbus.EventPlanExecutionStarted, map[string]any{"steps": len(pending)}, eventSource, nil)

	batch := 0
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			result.Summarize()
			return result, orchestrator.NewCancelledError("execution", err)
		}

		done := result.Snapshot()
		var ready, waiting []orchestrator.PlanStep
		for _, s := range pending {
			if dependenciesMet(s, done) {
				ready = append(ready, s)
			} else {
				waiting = append(waiting, s)
			}
		}
		if len(ready) == 0 {
			e.stall(ctx, metrics, result, waiting, done)
			break
		}

		batch++
		sort.SliceStable(ready, func(i, j int) bool {
			return priority[ready[i].ID] > priority[ready[j].ID]
		})
		for _, s := range ready {
			result.SetStatus(s.ID, orchestrator.StepReady)
		}

		p := pool.New().WithMaxGoroutines(e.maxConcurrency)
		for _, s := range ready {
			p.Go(func() {
				e.runStep(ctx, metrics, graph, question, s, done, result)
			})
		}
		p.Wait()

		pending = waiting
		metrics.addBatch()
		eventbus.Emit(ctx, e.bus, eventbus.EventPlanExecutionProgress, map[string]any{
			"batch":     batch,
			"completed": len(ready),
			"remaining": len(pending),
		}, eventSource, nil)
	}

	summary := result.Summarize()
	if err := ctx.Err(); err != nil {
		return result, orchestrator.NewCancelledError("execution", err)
	}

	metrics.finish(time.Since(start))
	m := metrics.Copy()
	logger.ContextKV(ctx, xlog.INFO, "status", "execution_finished",
		"batches", m.Batches,
		"successful", m.StepsSuccessful,
		"failed", m.StepsFailed,
		"skipped", m.StepsSkipped,
		"retries", m.TotalRetries,
		"duration", m.RunDuration)
	eventbus.Emit(ctx, e.bus, eventbus.EventPlanExecutionSuccess, map[string]any{
		"summary_len": len(summary),
		"stalled":     len(result.Stalled),
	}, eventSource, nil)
	return result, nil
}

// stall marks every remaining step skipped.
func (e *Executor) stall(ctx context.Context, metrics *ExecutorMetrics, result *orchestrator.ExecutionResult, waiting []orchestrator.PlanStep, done map[string]string) {
	missing := map[string][]string{}
	for _, s := range waiting {
		result.SetStatus(s.ID, orchestrator.StepSkipped)
		result.Stalled = append(result.Stalled, s.ID)
		for _, d := range s.DependsOn {
			if _, ok := done[d]; !ok {
				missing[s.ID] = append(missing[s.ID], d)
			}
		}
	}
	metrics.skip(len(waiting))
	logger.ContextKV(ctx, xlog.WARNING, "status", "execution_stalled", "steps", result.Stalled, "missing", missing)
	eventbus.Emit(ctx, e.bus, eventbus.EventPlanExecutionStalled, map[string]any{
		"steps":   result.Stalled,
		"missing": missing,
	}, eventSource, nil)
}

func (e *Executor) runStep(ctx context.Context, metrics *ExecutorMetrics, graph *orchestrator.CapabilityGraph, question string, step orchestrator.PlanStep, done map[string]string, result *orchestrator.ExecutionResult) {
	start := time.Now()
	result.SetStatus(step.ID, orchestrator.StepRunning)
	eventbus.Emit(ctx, e.bus, eventbus.EventStepExecutionStarted, stepPayload(step, nil), eventSource, nil)

	spec, ok := graph.Tool(step.ToolKey)
	if !ok {
		msg := fmt.Sprintf("%stool '%s' not found", ErrorPrefix, step.ToolKey)
		result.Set(step.ID, msg, orchestrator.StepFailed)
		metrics.record(time.Since(start), false, 0)
		logger.ContextKV(ctx, xlog.WARNING, "status", "tool_not_found", "step", step.ID, "tool", step.ToolKey)
		eventbus.Emit(ctx, e.bus, eventbus.EventStepExecutionFailure, stepPayload(step, map[string]any{"error": msg}), eventSource, nil)
		return
	}
	server, _ := graph.Server(spec.ServerKey)

	var lastErr error
	attempt := 0
	for ; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			logger.ContextKV(ctx, xlog.INFO, "status", "step_retry", "step", step.ID, "attempt", attempt+1, "err", lastErr.Error())
			eventbus.Emit(ctx, e.bus, eventbus.EventStepExecutionRetry, stepPayload(step, map[string]any{"attempt": attempt + 1}), eventSource, nil)
			if !sleep(ctx, e.retryDelay) {
				break
			}
		}

		text, err := e.attempt(ctx, question, step, spec, server, done)
		if err == nil {
			result.Set(step.ID, text, orchestrator.StepDone)
			metrics.record(time.Since(start), true, attempt)
			logger.ContextKV(ctx, xlog.DEBUG, "status", "step_done", "step", step.ID, "tool", step.ToolKey, "duration", time.Since(start))
			eventbus.Emit(ctx, e.bus, eventbus.EventStepExecutionSuccess, stepPayload(step, map[string]any{"output_len": len(text)}), eventSource, nil)
			return
		}
		lastErr = err
		logger.ContextKV(ctx, xlog.WARNING, "status", "step_attempt_failed", "step", step.ID, "tool", step.ToolKey, "attempt", attempt+1, "err", err.Error())
		if ctx.Err() != nil {
			break
		}
		if e.credentials != nil && isUnauthorized(err) {
			if rerr := e.credentials.Refresh(ctx, spec.ServerKey); rerr != nil {
				logger.ContextKV(ctx, xlog.WARNING, "status", "credential_refresh_failed", "server", spec.ServerKey, "err", rerr.Error())
			}
		}
	}

	if attempt > e.maxRetries {
		attempt = e.maxRetries
	}
	msg := ErrorPrefix + lastErr.Error()
	result.Set(step.ID, msg, orchestrator.StepFailed)
	metrics.record(time.Since(start), false, attempt)
	eventbus.Emit(ctx, e.bus, eventbus.EventStepExecutionFailure, stepPayload(step, map[string]any{"error": msg}), eventSource, nil)
}

// attempt synthesizes arguments and invokes the tool once. Only the
// invocation is bounded by the step timeout.
func (e *Executor) attempt(ctx context.Context, question string, step orchestrator.PlanStep, spec orchestrator.ToolSpec, server orchestrator.ServerSpec, done map[string]string) (string, error) {
	args := step.ArgsHint
	if e.synth != nil {
		synthesized, err := e.synth.Synthesize(ctx, question, step, spec, done)
		if err != nil {
			return "", err
		}
		args = synthesized
	}
	if args == nil {
		args = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	res, err := e.invoker.Invoke(callCtx, server, spec.ToolName, args)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", errors.Newf("tool '%s' timed out after %s", spec.Key(), e.stepTimeout)
		}
		return "", err
	}
	text := format.Text(res)
	if res != nil && res.IsError {
		if text == "" {
			text = fmt.Sprintf("tool '%s' reported an error", spec.Key())
		}
		return "", errors.New(text)
	}
	return text, nil
}

// GetMetrics returns the metrics of the most recently finished run. Each
// Execute call counts into its own metrics, so concurrent runs do not mix.
func (e *Executor) GetMetrics() ExecutorMetrics {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	return e.last.Copy()
}

func uniqueSteps(plan *orchestrator.Plan) []orchestrator.PlanStep {
	if plan == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(plan.Steps))
	out := make([]orchestrator.PlanStep, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		if _, dup := seen[s.ID]; dup {
			logger.KV(xlog.WARNING, "status", "duplicate_step_ignored", "step", s.ID)
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

func dependenciesMet(step orchestrator.PlanStep, done map[string]string) bool {
	for _, d := range step.DependsOn {
		if _, ok := done[d]; !ok {
			return false
		}
	}
	return true
}

// criticalPaths returns, per step, the length of the longest chain of
// dependents below it. Steps with longer chains are launched first within
// a batch. Cycles contribute nothing.
func criticalPaths(steps []orchestrator.PlanStep) map[string]int {
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		for _, d := range s.DependsOn {
			dependents[d] = append(dependents[d], s.ID)
		}
	}
	memo := make(map[string]int, len(steps))
	onStack := make(map[string]bool, len(steps))
	var depth func(id string) int
	depth = func(id string) int {
		if v, ok := memo[id]; ok {
			return v
		}
		if onStack[id] {
			return 0
		}
		onStack[id] = true
		longest := 0
		for _, dep := range dependents[id] {
			if l := 1 + depth(dep); l > longest {
				longest = l
			}
		}
		onStack[id] = false
		memo[id] = longest
		return longest
	}
	out := make(map[string]int, len(steps))
	for _, s := range steps {
		out[s.ID] = depth(s.ID)
	}
	return out
}

func isUnauthorized(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized")
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func stepPayload(step orchestrator.PlanStep, extra map[string]any) map[string]any {
	out := map[string]any{"step_id": step.ID, "tool": step.ToolKey}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
