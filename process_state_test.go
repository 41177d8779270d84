package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCapabilities struct {
	graph *CapabilityGraph
	err   error
}

func (s *staticCapabilities) Capabilities(context.Context, []ServerSpec) (*CapabilityGraph, error) {
	return s.graph, s.err
}

type fakePlanner struct {
	plan  *Plan
	err   error
	calls int
}

func (f *fakePlanner) Plan(context.Context, string, *CapabilityGraph) (*Plan, error) {
	f.calls++
	if f.plan == nil {
		return nil, f.err
	}
	return f.plan.Clone(), f.err
}

type appendSanitizer struct {
	calls int
}

func (a *appendSanitizer) Sanitize(_ string, plan *Plan, _ *CapabilityGraph) *Plan {
	a.calls++
	return plan
}

// echoExecutor records "<tool>:<intent>" for every step in plan order.
type echoExecutor struct {
	err error
}

func (e *echoExecutor) Execute(ctx context.Context, _ *CapabilityGraph, plan *Plan, _ string) (*ExecutionResult, error) {
	res := NewExecutionResult(plan)
	if e.err != nil {
		return res, e.err
	}
	for _, s := range plan.Steps {
		res.Set(s.ID, s.ToolKey+":"+s.Intent, StepDone)
	}
	res.Summarize()
	return res, nil
}

type fakeReflector struct {
	follow  bool
	replace *ExecutionResult
	err     error
	calls   int
}

func (f *fakeReflector) NeedsFollowUp(map[string]string) bool { return f.follow }

func (f *fakeReflector) Reflect(_ context.Context, _ string, _ *CapabilityGraph, prev *ExecutionResult) (*ExecutionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.replace, nil
}

type prefixHumanizer string

func (p prefixHumanizer) Humanize(_ context.Context, _, summary string) string {
	return string(p) + summary
}

type upperFilter struct{}

func (upperFilter) Apply(text string) string { return strings.ToUpper(text) }

func echoGraph() *CapabilityGraph {
	g := NewCapabilityGraph()
	g.AddServer(ServerSpec{Key: "svc", Tools: []ToolSchema{
		NewToolSchema("echo", "Echo text.", Param{Name: "text", Type: ParamString}),
	}})
	return g
}

func twoStepPlan() *Plan {
	return &Plan{Steps: []PlanStep{
		{ID: "step_1", Intent: "first", ToolKey: "svc.echo"},
		{ID: "step_2", Intent: "second", ToolKey: "svc.echo", DependsOn: []string{"step_1"}},
	}}
}

func baseComponents() Components {
	return Components{
		Capabilities: &staticCapabilities{graph: echoGraph()},
		Planner:      &fakePlanner{plan: twoStepPlan()},
		Sanitizer:    &appendSanitizer{},
		Executor:     &echoExecutor{},
		Config:       Config{EnableReflection: true},
	}
}

func run(t *testing.T, ctx context.Context, c Components, question string) (*ProcessContext, string, error) {
	t.Helper()
	pCtx := NewProcessContext("run-1", question)
	text, err := CreateProcessStateMachine(c, nil).Execute(ctx, pCtx)
	return pCtx, text, err
}

func TestStateMachine_Success(t *testing.T) {
	c := baseComponents()
	pCtx, text, err := run(t, context.Background(), c, "echo twice")
	require.NoError(t, err)

	assert.Equal(t, "svc.echo:first\n\nsvc.echo:second", text)
	assert.Equal(t, StateComplete, pCtx.CurrentState)
	assert.Equal(t, []ProcessState{
		StateInit, StateDiscovery, StatePlanning, StateSanitizing,
		StateExecution, StateReflection, StateFormatting,
	}, pCtx.History)
	assert.Equal(t, 1, c.Sanitizer.(*appendSanitizer).calls)
	assert.False(t, pCtx.EndTime.IsZero())
	assert.GreaterOrEqual(t, pCtx.TotalDuration(), pCtx.StateDuration(StateExecution))
}

func TestStateMachine_EmptyGraphShortCircuits(t *testing.T) {
	c := baseComponents()
	c.Capabilities = &staticCapabilities{graph: NewCapabilityGraph()}
	planner := c.Planner.(*fakePlanner)

	pCtx, text, err := run(t, context.Background(), c, "anything")
	require.NoError(t, err)
	assert.Equal(t, CouldNotDetermineMessage, text)
	assert.Equal(t, 0, planner.calls)
	assert.Equal(t, StateComplete, pCtx.CurrentState)
}

func TestStateMachine_EmptyPlan(t *testing.T) {
	c := baseComponents()
	c.Planner = &fakePlanner{}

	pCtx, text, err := run(t, context.Background(), c, "anything")
	require.NoError(t, err)
	assert.Equal(t, CouldNotDetermineMessage, text)
	assert.NotContains(t, pCtx.History, StateExecution)
}

func TestStateMachine_Errors(t *testing.T) {
	t.Run("discovery", func(t *testing.T) {
		c := baseComponents()
		c.Capabilities = &staticCapabilities{err: NewDiscoveryError("svc", errors.New("down"))}
		pCtx, _, err := run(t, context.Background(), c, "q")
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrCodeDiscovery))
		assert.Equal(t, StateError, pCtx.CurrentState)
		assert.Equal(t, string(StateDiscovery), pCtx.ErrorStage)
	})
	t.Run("planning", func(t *testing.T) {
		c := baseComponents()
		c.Planner = &fakePlanner{err: errors.New("llm down")}
		_, _, err := run(t, context.Background(), c, "q")
		assert.True(t, HasCode(err, ErrCodePlanGeneration))
		assert.ErrorContains(t, err, "stage planning")
	})
	t.Run("execution keeps partial result", func(t *testing.T) {
		c := baseComponents()
		c.Executor = &echoExecutor{err: NewExecutionError("boom", nil)}
		pCtx, _, err := run(t, context.Background(), c, "q")
		assert.True(t, HasCode(err, ErrCodeExecution))
		require.NotNil(t, pCtx.Execution)
		assert.Equal(t, []string{"step_1", "step_2"}, pCtx.Execution.Order)
	})
}

func TestStateMachine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pCtx, text, err := run(t, ctx, baseComponents(), "q")
	assert.Empty(t, text)
	assert.True(t, HasCode(err, ErrCodeCancelled))
	assert.Equal(t, StateCancelled, pCtx.CurrentState)
	assert.True(t, IsCancellation(err))
}

func TestStateMachine_MissingTransition(t *testing.T) {
	sm := NewStateMachine(nil)
	pCtx := NewProcessContext("run", "q")
	_, err := sm.Execute(context.Background(), pCtx)
	assert.True(t, HasCode(err, ErrCodeInternal))
	assert.Equal(t, StateError, pCtx.CurrentState)
}

func TestStateMachine_Reflection(t *testing.T) {
	replaced := &ExecutionResult{Summary: "fixed"}

	tcases := []struct {
		name      string
		enabled   bool
		reflector *fakeReflector
		exp       string
		calls     int
	}{
		{"disabled", false, &fakeReflector{follow: true, replace: replaced}, "svc.echo:first\n\nsvc.echo:second", 0},
		{"not needed", true, &fakeReflector{replace: replaced}, "svc.echo:first\n\nsvc.echo:second", 0},
		{"replaces", true, &fakeReflector{follow: true, replace: replaced}, "fixed", 1},
		{"nil keeps previous", true, &fakeReflector{follow: true}, "svc.echo:first\n\nsvc.echo:second", 1},
		{"error keeps previous", true, &fakeReflector{follow: true, err: errors.New("x")}, "svc.echo:first\n\nsvc.echo:second", 1},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			c := baseComponents()
			c.Reflector = tc.reflector
			c.Config.EnableReflection = tc.enabled
			_, text, err := run(t, context.Background(), c, "q")
			require.NoError(t, err)
			assert.Equal(t, tc.exp, text)
			assert.Equal(t, tc.calls, tc.reflector.calls)
		})
	}
}

func TestStateMachine_Formatting(t *testing.T) {
	c := baseComponents()
	c.Humanizer = prefixHumanizer("answer: ")
	c.Output = upperFilter{}
	c.Config.ReportStalls = true
	c.Executor = stallingExecutor{}

	_, text, err := run(t, context.Background(), c, "q")
	require.NoError(t, err)
	assert.Equal(t, "ANSWER: DONE\n\n(UNSCHEDULED STEPS: STEP_2)", text)
}

type stallingExecutor struct{}

func (stallingExecutor) Execute(_ context.Context, _ *CapabilityGraph, plan *Plan, _ string) (*ExecutionResult, error) {
	res := NewExecutionResult(plan)
	res.Set("step_1", "done", StepDone)
	res.SetStatus("step_2", StepSkipped)
	res.Stalled = []string{"step_2"}
	res.Summarize()
	return res, nil
}

func TestProcessContext_Transitions(t *testing.T) {
	pCtx := NewProcessContext("r", "q")
	assert.False(t, pCtx.IsTerminal())
	pCtx.enter(StateDiscovery)
	pCtx.SetCancelled(context.DeadlineExceeded, "discovery")

	assert.True(t, pCtx.IsTerminal())
	assert.Equal(t, []ProcessState{StateInit, StateDiscovery}, pCtx.History)
	assert.True(t, HasCode(pCtx.LastError, ErrCodeCancelled))
	assert.Contains(t, pCtx.LastError.Error(), "deadline exceeded")
}
