package reflection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

func TestHeuristic_NeedsFollowUp(t *testing.T) {
	tcases := []struct {
		name    string
		results map[string]string
		exp     bool
	}{
		{"clean", map[string]string{"step_1": "42.0", "step_2": "Bonjour"}, false},
		{"empty", nil, false},
		{"error prefix", map[string]string{"step_1": "ERROR: tool 'x.y' not found"}, true},
		{"failed", map[string]string{"step_1": "Upload FAILED"}, true},
		{"unknown", map[string]string{"step_1": "Unknown species"}, true},
		{"could not", map[string]string{"step_1": "Could not reach API"}, true},
	}
	r := NewHeuristic()
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, r.NeedsFollowUp(tc.results))
		})
	}

	custom := NewHeuristic("Timeout")
	assert.True(t, custom.NeedsFollowUp(map[string]string{"a": "request timeout"}))
	assert.False(t, custom.NeedsFollowUp(map[string]string{"a": "ERROR: boom"}))
}

func TestHeuristic_ReflectReturnsPrevious(t *testing.T) {
	plan := &orchestrator.Plan{Steps: []orchestrator.PlanStep{{ID: "step_1"}, {ID: "step_2"}}}
	prev := orchestrator.NewExecutionResult(plan)
	prev.Set("step_1", "ERROR: boom", orchestrator.StepFailed)
	prev.Set("step_2", "ok", orchestrator.StepDone)
	prev.Summarize()

	r := NewHeuristic()
	got, err := r.Reflect(context.Background(), "q", orchestrator.NewCapabilityGraph(), prev)
	require.NoError(t, err)
	assert.Same(t, prev, got)
	assert.Equal(t, []string{"step_1"}, r.flagged(prev.Snapshot()))

	got, err = r.Reflect(context.Background(), "q", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
