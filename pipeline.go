package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/effective-security/xlog"

	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/eventbus"
)

// CreateProcessStateMachine wires the pipeline transitions.
func CreateProcessStateMachine(components Components, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)
	sm.RegisterTransition(StateInit, initTransition(components))
	sm.RegisterTransition(StateDiscovery, discoveryTransition(components))
	sm.RegisterTransition(StatePlanning, planningTransition(components))
	sm.RegisterTransition(StateSanitizing, sanitizingTransition(components))
	sm.RegisterTransition(StateExecution, executionTransition(components))
	sm.RegisterTransition(StateReflection, reflectionTransition(components))
	sm.RegisterTransition(StateFormatting, formattingTransition(components))
	return sm
}

func runMeta(pCtx *ProcessContext, kv ...any) map[string]any {
	meta := map[string]any{"run_id": pCtx.RunID}
	for i := 0; i+1 < len(kv); i += 2 {
		meta[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return meta
}

func initTransition(_ Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		eventbus.Emit(ctx, eb, eventbus.EventQuestionProcessingStarted, pCtx.Question, "StateMachine.Init", runMeta(pCtx))
		logger.ContextKV(ctx, xlog.INFO, "status", "question_received", "run_id", pCtx.RunID, "question", pCtx.Question)
		return StateDiscovery, nil
	}
}

func discoveryTransition(c Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		eventbus.Emit(ctx, eb, eventbus.EventDiscoveryStarted, len(c.Servers), "StateMachine.Discovery", runMeta(pCtx))

		graph, err := c.Capabilities.Capabilities(ctx, c.Servers)
		if err != nil {
			eventbus.Emit(ctx, eb, eventbus.EventQuestionProcessingFailure, err.Error(), "StateMachine.Discovery",
				runMeta(pCtx, "stage", "discovery"))
			return StateError, err
		}
		pCtx.Graph = graph
		eventbus.Emit(ctx, eb, eventbus.EventDiscoveryCompleted, graph.ToolKeys(), "StateMachine.Discovery",
			runMeta(pCtx, "tool_count", graph.Len()))

		if graph.IsEmpty() {
			logger.ContextKV(ctx, xlog.WARNING, "status", "empty_capability_graph", "run_id", pCtx.RunID)
			pCtx.Complete(CouldNotDetermineMessage)
			return StateComplete, nil
		}
		return StatePlanning, nil
	}
}

func planningTransition(c Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		if pCtx.Preset && pCtx.Plan != nil {
			return StateSanitizing, nil
		}
		eventbus.Emit(ctx, eb, eventbus.EventPlanGenerationStarted, pCtx.Question, "StateMachine.Planning", runMeta(pCtx))

		plan, err := c.Planner.Plan(ctx, pCtx.Question, pCtx.Graph)
		if err != nil {
			eventbus.Emit(ctx, eb, eventbus.EventPlanGenerationFailure, err.Error(), "StateMachine.Planning", runMeta(pCtx))
			return StateError, NewPlanGenerationError(err)
		}
		if plan == nil {
			plan = &Plan{}
		}
		pCtx.Plan = plan
		eventbus.Emit(ctx, eb, eventbus.EventPlanGenerationSuccess, plan, "StateMachine.Planning",
			runMeta(pCtx, "step_count", plan.Len()))
		return StateSanitizing, nil
	}
}

func sanitizingTransition(c Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		if c.Sanitizer != nil && !pCtx.Preset {
			pCtx.Plan = c.Sanitizer.Sanitize(pCtx.Question, pCtx.Plan, pCtx.Graph)
			eventbus.Emit(ctx, eb, eventbus.EventPlanSanitized, pCtx.Plan, "StateMachine.Sanitizing",
				runMeta(pCtx, "step_count", pCtx.Plan.Len()))
		}
		if pCtx.Plan.IsEmpty() {
			pCtx.Complete(CouldNotDetermineMessage)
			return StateComplete, nil
		}
		if err := pCtx.Plan.Validate(); err != nil {
			// Executed anyway: unknown dependencies and cycles surface as stalls.
			logger.ContextKV(ctx, xlog.WARNING, "status", "plan_invalid", "run_id", pCtx.RunID, "err", err.Error())
		}
		logger.ContextKV(ctx, xlog.INFO,
			"status", "plan_ready",
			"run_id", pCtx.RunID,
			"steps", pCtx.Plan.Len())
		logger.ContextKV(ctx, xlog.DEBUG, "plan", pCtx.Plan.Format())
		return StateExecution, nil
	}
}

func executionTransition(c Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		result, err := c.Executor.Execute(ctx, pCtx.Graph, pCtx.Plan, pCtx.Question)
		if result != nil {
			pCtx.Execution = result
		}
		if err != nil {
			eventbus.Emit(ctx, eb, eventbus.EventQuestionProcessingFailure, err.Error(), "StateMachine.Execution",
				runMeta(pCtx, "stage", "execution"))
			return StateError, err
		}
		return StateReflection, nil
	}
}

func reflectionTransition(c Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		if c.Reflector == nil || !c.Config.EnableReflection {
			return StateFormatting, nil
		}
		if !c.Reflector.NeedsFollowUp(pCtx.Execution.Snapshot()) {
			return StateFormatting, nil
		}
		eventbus.Emit(ctx, eb, eventbus.EventReflectionFollowUp, pCtx.Execution.Summary, "StateMachine.Reflection", runMeta(pCtx))
		reflected, err := c.Reflector.Reflect(ctx, pCtx.Question, pCtx.Graph, pCtx.Execution)
		if err != nil {
			logger.ContextKV(ctx, xlog.WARNING, "status", "reflection_failed", "run_id", pCtx.RunID, "err", err.Error())
			return StateFormatting, nil
		}
		if reflected != nil {
			pCtx.Execution = reflected
		}
		return StateFormatting, nil
	}
}

func formattingTransition(c Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		text := pCtx.Execution.Summary
		if c.Humanizer != nil && strings.TrimSpace(text) != "" {
			text = c.Humanizer.Humanize(ctx, pCtx.Question, text)
		}
		if c.Config.ReportStalls && len(pCtx.Execution.Stalled) > 0 {
			text = strings.TrimSpace(text + "\n\n(unscheduled steps: " + strings.Join(pCtx.Execution.Stalled, ", ") + ")")
		}
		if c.Output != nil {
			text = c.Output.Apply(text)
		}

		eventbus.Emit(ctx, eb, eventbus.EventFormattingSuccess, len(text), "StateMachine.Formatting", runMeta(pCtx))
		eventbus.Emit(ctx, eb, eventbus.EventQuestionProcessingSuccess, pCtx.Question, "StateMachine.Formatting",
			runMeta(pCtx, "duration_ms", pCtx.TotalDuration().Milliseconds()))
		pCtx.Complete(text)
		return StateComplete, nil
	}
}
