package planner

import (
	"fmt"
	"strings"

	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

const (
	refreshTokenKey        = "youtube.refresh_token"
	tiktokSearchKey        = "tiktok.tiktok_search"
	translateFromEnglish   = "translate.translate_from_english"
	translateToEnglishPref = "translate.translate_to_english"
)

// Sanitizer applies the deterministic rewrites every plan goes through
// before execution.
type Sanitizer struct{}

// NewSanitizer returns a plan sanitizer.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize implements orchestrator.Sanitizer. The input plan is not
// modified.
func (s *Sanitizer) Sanitize(question string, plan *orchestrator.Plan, graph *orchestrator.CapabilityGraph) *orchestrator.Plan {
	out := plan.Clone()
	out = dropRefreshSteps(out)
	out = enforceTikTok(question, out, graph)
	out = appendTranslation(question, out)
	return out
}

// dropRefreshSteps removes token refresh steps; servers refresh on 401.
func dropRefreshSteps(plan *orchestrator.Plan) *orchestrator.Plan {
	removed := map[string]bool{}
	for _, s := range plan.Steps {
		if s.ToolKey == refreshTokenKey {
			removed[s.ID] = true
		}
	}
	if len(removed) == 0 {
		return plan
	}
	logger.KV(xlog.INFO, "status", "sanitize_refresh_removed", "count", len(removed))
	kept := make([]orchestrator.PlanStep, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		if removed[s.ID] {
			continue
		}
		deps := s.DependsOn[:0]
		for _, d := range s.DependsOn {
			if !removed[d] {
				deps = append(deps, d)
			}
		}
		s.DependsOn = deps
		kept = append(kept, s)
	}
	return &orchestrator.Plan{Steps: kept}
}

func enforceTikTok(question string, plan *orchestrator.Plan, graph *orchestrator.CapabilityGraph) *orchestrator.Plan {
	q := strings.ToLower(question)
	if !strings.Contains(q, "tiktok") && !strings.Contains(q, "tik tok") {
		return plan
	}
	for _, s := range plan.Steps {
		if strings.HasPrefix(s.ToolKey, "tiktok.") && graph.HasTool(s.ToolKey) {
			return plan
		}
	}

	logger.KV(xlog.INFO, "status", "sanitize_tiktok_enforced")
	kept := make([]orchestrator.PlanStep, 0, len(plan.Steps)+1)
	for _, s := range plan.Steps {
		if !strings.HasPrefix(s.ToolKey, "translate.") {
			kept = append(kept, s)
		}
	}
	out := &orchestrator.Plan{Steps: kept}

	searchKey := ""
	if graph.HasTool(tiktokSearchKey) {
		searchKey = tiktokSearchKey
	} else if spec, ok := graph.FindByToolName("tiktok_search", "tiktok"); ok {
		searchKey = spec.Key()
	}
	if searchKey == "" {
		return out
	}
	search := orchestrator.PlanStep{
		ID:       uniqueID(out, 1),
		Intent:   "search tiktok for " + question,
		ToolKey:  searchKey,
		ArgsHint: map[string]any{"query": question},
	}
	out.Steps = append([]orchestrator.PlanStep{search}, out.Steps...)
	return out
}

// appendTranslation adds a translate_from_english step over the first
// step's output when the question names a target language. A plan with
// nothing left to translate is returned as is.
func appendTranslation(question string, plan *orchestrator.Plan) *orchestrator.Plan {
	code, ok := DetectTargetLanguage(question)
	if !ok {
		return plan
	}
	kept := make([]orchestrator.PlanStep, 0, len(plan.Steps)+1)
	for _, s := range plan.Steps {
		if !strings.HasPrefix(s.ToolKey, translateToEnglishPref) {
			kept = append(kept, s)
		}
	}
	out := &orchestrator.Plan{Steps: kept}
	if len(kept) == 0 {
		return out
	}

	first := kept[0].ID
	out.Steps = append(out.Steps, orchestrator.PlanStep{
		ID:      uniqueID(out, len(kept)+1),
		Intent:  "Translate result to " + code,
		ToolKey: translateFromEnglish,
		ArgsHint: map[string]any{
			"target_language": code,
			"text":            fmt.Sprintf("${%s_OUTPUT}", first),
		},
		DependsOn: []string{first},
	})
	logger.KV(xlog.INFO, "status", "sanitize_translation_appended", "target", code, "after", first)
	return out
}

// uniqueID returns step_<n>, bumping n until no step uses it.
func uniqueID(plan *orchestrator.Plan, n int) string {
	for {
		id := fmt.Sprintf("step_%d", n)
		if !plan.HasStep(id) {
			return id
		}
		n++
	}
}
