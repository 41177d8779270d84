// Package reflection decides whether an execution needs follow-up work.
package reflection

import (
	"context"
	"sort"
	"strings"

	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "reflection")

// DefaultMarkers are the substrings that flag a result for follow-up.
var DefaultMarkers = []string{"error", "failed", "unknown", "could not"}

// Heuristic flags executions whose outputs mention a failure marker. It
// never schedules follow-up work; Reflect logs the decision and returns the
// previous result.
type Heuristic struct {
	markers []string
}

// NewHeuristic returns a reflector matching markers case-insensitively.
// With no markers DefaultMarkers is used.
func NewHeuristic(markers ...string) *Heuristic {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	lower := make([]string, len(markers))
	for i, m := range markers {
		lower[i] = strings.ToLower(m)
	}
	return &Heuristic{markers: lower}
}

// NeedsFollowUp implements orchestrator.Reflector.
func (h *Heuristic) NeedsFollowUp(results map[string]string) bool {
	return len(h.flagged(results)) > 0
}

// Reflect implements orchestrator.Reflector.
func (h *Heuristic) Reflect(ctx context.Context, question string, _ *orchestrator.CapabilityGraph, previous *orchestrator.ExecutionResult) (*orchestrator.ExecutionResult, error) {
	if previous == nil {
		return nil, nil
	}
	flagged := h.flagged(previous.Snapshot())
	if len(flagged) == 0 {
		return previous, nil
	}
	logger.ContextKV(ctx, xlog.INFO,
		"status", "follow_up_not_implemented",
		"question", question,
		"steps", flagged)
	return previous, nil
}

func (h *Heuristic) flagged(results map[string]string) []string {
	var out []string
	for id, v := range results {
		text := strings.ToLower(v)
		for _, m := range h.markers {
			if strings.Contains(text, m) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
