package orchestrator

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/eventbus"
)

// ProcessState is a stage of answering one master question.
type ProcessState string

const (
	StateInit       ProcessState = "init"
	StateDiscovery  ProcessState = "discovery"
	StatePlanning   ProcessState = "planning"
	StateSanitizing ProcessState = "sanitizing"
	StateExecution  ProcessState = "execution"
	StateReflection ProcessState = "reflection"
	StateFormatting ProcessState = "formatting"
	StateError      ProcessState = "error"
	StateComplete   ProcessState = "complete"
	StateCancelled  ProcessState = "cancelled"
)

// ProcessContext is the data carried from one state to the next.
type ProcessContext struct {
	RunID    string
	Question string
	// Preset marks a plan supplied by the caller; planning and sanitizing
	// leave it untouched.
	Preset bool

	Graph       *CapabilityGraph
	Plan        *Plan
	Execution   *ExecutionResult
	FinalAnswer string

	LastError  error
	ErrorStage string

	CurrentState ProcessState
	// History lists the states visited, in order.
	History []ProcessState

	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ProcessState]time.Time
	StateDurations  map[ProcessState]time.Duration

	// observe is told about every state entered.
	observe func(ProcessState)
}

// NewProcessContext creates a new process context with the given question.
func NewProcessContext(runID, question string) *ProcessContext {
	now := time.Now()
	return &ProcessContext{
		RunID:           runID,
		Question:        question,
		CurrentState:    StateInit,
		StartTime:       now,
		StateStartTimes: map[ProcessState]time.Time{StateInit: now},
		StateDurations:  make(map[ProcessState]time.Duration),
	}
}

// enter records the end of the current state and switches to next.
func (pc *ProcessContext) enter(next ProcessState) {
	now := time.Now()
	if start, ok := pc.StateStartTimes[pc.CurrentState]; ok {
		pc.StateDurations[pc.CurrentState] += now.Sub(start)
	}
	pc.History = append(pc.History, pc.CurrentState)
	pc.CurrentState = next
	pc.StateStartTimes[next] = now
	if pc.IsTerminal() {
		pc.EndTime = now
	}
	if pc.observe != nil {
		pc.observe(next)
	}
}

// IsTerminal checks if the current state is Complete, Error or Cancelled.
func (pc *ProcessContext) IsTerminal() bool {
	return pc.CurrentState == StateComplete || pc.CurrentState == StateError || pc.CurrentState == StateCancelled
}

// SetError records err and moves to StateError.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.LastError = err
	pc.ErrorStage = stage
	pc.enter(StateError)
}

// SetCancelled records the cancellation and moves to StateCancelled.
func (pc *ProcessContext) SetCancelled(err error, stage string) {
	pc.LastError = NewCancelledError(stage, err)
	pc.ErrorStage = stage
	pc.enter(StateCancelled)
}

// Complete stores the answer and moves to StateComplete.
func (pc *ProcessContext) Complete(answer string) {
	pc.FinalAnswer = answer
	pc.enter(StateComplete)
}

// StateDuration returns the time spent in state so far.
func (pc *ProcessContext) StateDuration(state ProcessState) time.Duration {
	d := pc.StateDurations[state]
	if state == pc.CurrentState && !pc.IsTerminal() {
		if start, ok := pc.StateStartTimes[state]; ok {
			d += time.Since(start)
		}
	}
	return d
}

// TotalDuration returns the duration of the run so far.
func (pc *ProcessContext) TotalDuration() time.Duration {
	if !pc.EndTime.IsZero() {
		return pc.EndTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// StateTransition runs one state and returns the next one.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error)

// StateMachine drives a ProcessContext through registered transitions.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates an empty state machine.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until a terminal state is reached.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (string, error) {
	for !pCtx.IsTerminal() {
		if err := ctx.Err(); err != nil {
			pCtx.SetCancelled(err, string(pCtx.CurrentState))
			break
		}

		transition, exists := sm.transitions[pCtx.CurrentState]
		if !exists {
			pCtx.SetError(NewInternalError(string(pCtx.CurrentState),
				"no transition defined for state "+string(pCtx.CurrentState), nil), string(pCtx.CurrentState))
			break
		}

		stage := string(pCtx.CurrentState)
		nextState, err := transition(ctx, sm.eventBus, pCtx)
		if err != nil {
			if IsCancellation(err) && ctx.Err() != nil {
				pCtx.SetCancelled(err, stage)
			} else if !pCtx.IsTerminal() {
				pCtx.SetError(errors.WithMessagef(err, "stage %s", stage), stage)
			}
			continue
		}
		if !pCtx.IsTerminal() {
			pCtx.enter(nextState)
		}
	}
	return pCtx.FinalAnswer, pCtx.LastError
}
