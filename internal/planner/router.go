package planner

import (
	"context"
	"strings"

	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

var (
	adsOperationWords = []string{"google ads", "googleads", "ads", "campaign", "ad group"}
	storeWords        = []string{"shopify", "store", "e-commerce"}
)

// Router picks the planning strategy for a question: Google Ads questions
// go straight to the heuristic planner, everything else tries the model
// first.
type Router struct {
	llm       orchestrator.Planner
	heuristic orchestrator.Planner
}

// NewRouter returns a routing planner. llm may be nil.
func NewRouter(llm, heuristic orchestrator.Planner) *Router {
	if heuristic == nil {
		heuristic = NewHeuristic()
	}
	return &Router{llm: llm, heuristic: heuristic}
}

// IsAdsOperation reports whether question is a Google Ads request rather
// than a store request.
func IsAdsOperation(question string) bool {
	q := strings.ToLower(question)
	return containsAny(q, adsOperationWords) && !containsAny(q, storeWords)
}

// Plan implements orchestrator.Planner.
func (r *Router) Plan(ctx context.Context, question string, graph *orchestrator.CapabilityGraph) (*orchestrator.Plan, error) {
	if r.llm == nil || IsAdsOperation(question) {
		logger.ContextKV(ctx, xlog.DEBUG, "status", "heuristic_route", "llm", r.llm != nil)
		return r.heuristic.Plan(ctx, question, graph)
	}
	plan, err := r.llm.Plan(ctx, question, graph)
	if err == nil && !plan.IsEmpty() {
		return plan, nil
	}
	if err != nil {
		if orchestrator.HasCode(err, orchestrator.ErrCodeCancelled) {
			return nil, err
		}
		logger.ContextKV(ctx, xlog.WARNING, "status", "llm_planner_failed", "err", err.Error())
	}
	return r.heuristic.Plan(ctx, question, graph)
}
