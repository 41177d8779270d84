package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/eventbus"
)

// ErrRunNotFound is returned for unknown background run ids.
var ErrRunNotFound = errors.New("run not found")

// ErrRunInProgress is returned by AsyncResult while the run is active.
var ErrRunInProgress = errors.New("run is still in progress")

// AsyncStatus describes a background run.
type AsyncStatus struct {
	RunID        string        `json:"run_id"`
	Question     string        `json:"question"`
	CurrentState ProcessState  `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

type asyncRun struct {
	id       string
	question string
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	state   ProcessState
	start   time.Time
	end     time.Time
	answer  *Answer
	err     error
	errStep string
}

func (r *asyncRun) setState(s ProcessState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *asyncRun) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *asyncRun) status() AsyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := AsyncStatus{
		RunID:        r.id,
		Question:     r.question,
		CurrentState: r.state,
		StartTime:    r.start,
		IsComplete:   r.finished(),
		ErrorStage:   r.errStep,
	}
	if r.end.IsZero() {
		st.Duration = time.Since(r.start)
	} else {
		st.Duration = r.end.Sub(r.start)
	}
	if r.err != nil {
		st.HasError = true
		st.ErrorMessage = r.err.Error()
	}
	return st
}

// AnswerAsync starts answering question in the background and returns the
// run id. The run is detached from ctx cancellation; use CancelAsync.
func (o *Orchestrator) AnswerAsync(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", NewValidationError("init", "question must not be empty", nil)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pCtx := NewProcessContext(uuid.New().String(), question)
	run := &asyncRun{
		id:       pCtx.RunID,
		question: question,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    pCtx.CurrentState,
		start:    pCtx.StartTime,
	}
	pCtx.observe = run.setState

	o.asyncMu.Lock()
	o.asyncRuns[run.id] = run
	o.asyncMu.Unlock()

	bus := o.EventBus()
	eventbus.Emit(ctx, bus, eventbus.EventAsyncProcessingStarted, question, "Orchestrator.AnswerAsync",
		map[string]any{"run_id": run.id})

	go func() {
		defer cancel()
		answer, err := o.run(runCtx, pCtx)

		run.mu.Lock()
		run.answer = answer
		run.err = err
		run.errStep = pCtx.ErrorStage
		run.end = time.Now()
		run.mu.Unlock()
		close(run.done)

		meta := map[string]any{"run_id": run.id, "duration_ms": pCtx.TotalDuration().Milliseconds()}
		eventType := eventbus.EventAsyncProcessingSuccess
		if err != nil {
			eventType = eventbus.EventAsyncProcessingFailure
			meta["error"] = err.Error()
			meta["error_stage"] = pCtx.ErrorStage
		}
		eventbus.Emit(context.Background(), bus, eventType, question, "Orchestrator.AnswerAsync", meta)
	}()

	logger.ContextKV(ctx, xlog.INFO, "status", "async_started", "run_id", run.id)
	return run.id, nil
}

func (o *Orchestrator) lookupRun(id string) (*asyncRun, error) {
	o.asyncMu.RLock()
	defer o.asyncMu.RUnlock()
	run, ok := o.asyncRuns[id]
	if !ok {
		return nil, errors.Wrapf(ErrRunNotFound, "run '%s'", id)
	}
	return run, nil
}

// AsyncStatus reports the progress of a background run.
func (o *Orchestrator) AsyncStatus(id string) (AsyncStatus, error) {
	run, err := o.lookupRun(id)
	if err != nil {
		return AsyncStatus{}, err
	}
	return run.status(), nil
}

// AsyncResult returns the answer of a finished run, ErrRunInProgress while
// it is active, or the error the run ended with.
func (o *Orchestrator) AsyncResult(id string) (*Answer, error) {
	run, err := o.lookupRun(id)
	if err != nil {
		return nil, err
	}
	if !run.finished() {
		return nil, errors.Wrapf(ErrRunInProgress, "run '%s' is in state %s", id, run.status().CurrentState)
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.answer, run.err
}

// WaitAsync blocks until the run finishes or ctx is done.
func (o *Orchestrator) WaitAsync(ctx context.Context, id string) (*Answer, error) {
	run, err := o.lookupRun(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, NewCancelledError("wait", ctx.Err())
	case <-run.done:
	}
	return o.AsyncResult(id)
}

// CancelAsync cancels an active run. It reports false when the run had
// already finished.
func (o *Orchestrator) CancelAsync(id string) (bool, error) {
	run, err := o.lookupRun(id)
	if err != nil {
		return false, err
	}
	if run.finished() {
		return false, nil
	}
	run.cancel()
	eventbus.Emit(context.Background(), o.EventBus(), eventbus.EventQuestionProcessingCancelled, run.question,
		"Orchestrator.CancelAsync", map[string]any{"run_id": id})
	logger.KV(xlog.INFO, "status", "async_cancelled", "run_id", id)
	return true, nil
}

// ListAsync returns the ids of the background runs, sorted, with their
// current states.
func (o *Orchestrator) ListAsync() []AsyncStatus {
	o.asyncMu.RLock()
	runs := make([]*asyncRun, 0, len(o.asyncRuns))
	for _, r := range o.asyncRuns {
		runs = append(runs, r)
	}
	o.asyncMu.RUnlock()

	out := make([]AsyncStatus, len(runs))
	for i, r := range runs {
		out[i] = r.status()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// CleanupAsync forgets finished runs that ended more than olderThan ago and
// returns how many were removed.
func (o *Orchestrator) CleanupAsync(olderThan time.Duration) int {
	o.asyncMu.Lock()
	defer o.asyncMu.Unlock()
	now := time.Now()
	removed := 0
	for id, r := range o.asyncRuns {
		if !r.finished() {
			continue
		}
		r.mu.Lock()
		end := r.end
		r.mu.Unlock()
		if now.Sub(end) > olderThan {
			delete(o.asyncRuns, id)
			removed++
		}
	}
	return removed
}

// cancelAsyncRuns stops every active run and waits for them to finish.
func (o *Orchestrator) cancelAsyncRuns() {
	o.asyncMu.RLock()
	runs := make([]*asyncRun, 0, len(o.asyncRuns))
	for _, r := range o.asyncRuns {
		runs = append(runs, r)
	}
	o.asyncMu.RUnlock()
	for _, r := range runs {
		r.cancel()
		<-r.done
	}
}
