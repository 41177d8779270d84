package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingExecutor waits for ctx to end.
type blockingExecutor struct {
	started chan struct{}
}

func (b *blockingExecutor) Execute(ctx context.Context, _ *CapabilityGraph, plan *Plan, _ string) (*ExecutionResult, error) {
	close(b.started)
	<-ctx.Done()
	return NewExecutionResult(plan), NewCancelledError("execution", ctx.Err())
}

func TestAnswerAsync(t *testing.T) {
	o := newTestOrchestrator(t, baseComponents())

	id, err := o.AnswerAsync(context.Background(), "echo twice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ans, err := o.WaitAsync(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "svc.echo:first\n\nsvc.echo:second", ans.Text)
	assert.Equal(t, id, ans.RunID)

	st, err := o.AsyncStatus(id)
	require.NoError(t, err)
	assert.True(t, st.IsComplete)
	assert.False(t, st.HasError)
	assert.Equal(t, StateComplete, st.CurrentState)

	ok, err := o.CancelAsync(id)
	require.NoError(t, err)
	assert.False(t, ok)

	list := o.ListAsync()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].RunID)

	assert.Equal(t, 0, o.CleanupAsync(time.Hour))
	assert.Equal(t, 1, o.CleanupAsync(0))
	_, err = o.AsyncStatus(id)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestAnswerAsync_Cancel(t *testing.T) {
	c := baseComponents()
	exec := &blockingExecutor{started: make(chan struct{})}
	c.Executor = exec
	o := newTestOrchestrator(t, c)

	// the caller's context does not bound the run
	reqCtx, reqCancel := context.WithCancel(context.Background())
	id, err := o.AnswerAsync(reqCtx, "echo twice")
	require.NoError(t, err)
	reqCancel()

	<-exec.started
	_, err = o.AsyncResult(id)
	assert.ErrorIs(t, err, ErrRunInProgress)
	st, err := o.AsyncStatus(id)
	require.NoError(t, err)
	assert.False(t, st.IsComplete)
	assert.Equal(t, StateExecution, st.CurrentState)

	ok, err := o.CancelAsync(id)
	require.NoError(t, err)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = o.WaitAsync(ctx, id)
	assert.True(t, HasCode(err, ErrCodeCancelled))

	st, err = o.AsyncStatus(id)
	require.NoError(t, err)
	assert.True(t, st.IsComplete)
	assert.True(t, st.HasError)
	assert.Equal(t, StateCancelled, st.CurrentState)
}

func TestAnswerAsync_Errors(t *testing.T) {
	o := newTestOrchestrator(t, baseComponents())
	_, err := o.AnswerAsync(context.Background(), " ")
	assert.True(t, HasCode(err, ErrCodeValidation))

	_, err = o.AsyncResult("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = o.CancelAsync("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = o.WaitAsync(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
