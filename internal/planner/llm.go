package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llmjson"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/prompt"
)

// toolAliases maps names models tend to invent onto real tool keys.
var toolAliases = map[string]string{
	"tiktok.search_videos":    "tiktok.tiktok_search",
	"tiktok.get_post_details": "tiktok.tiktok_get_post_details",
	"tiktok.get_subtitle":     "tiktok.tiktok_get_subtitle",
}

var (
	stepSchemaOnce sync.Once
	stepSchema     string
)

// StepSchema returns the JSON Schema of a plan step as shown to the model.
func StepSchema() string {
	stepSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
		s := r.Reflect(&orchestrator.PlanStep{})
		s.Version = ""
		data, err := json.Marshal(s)
		if err != nil {
			logger.KV(xlog.ERROR, "status", "step_schema_failed", "err", err.Error())
			return
		}
		stepSchema = string(data)
	})
	return stepSchema
}

// LLM asks a model for the plan and falls back to another planner when
// the reply is unusable.
type LLM struct {
	llm      orchestrator.Completer
	fallback orchestrator.Planner
	prompts  *prompt.Registry
	model    string
}

// LLMOption configures an LLM planner.
type LLMOption func(*LLM)

// WithFallback sets the planner used when the model fails. Defaults to
// the heuristic planner.
func WithFallback(p orchestrator.Planner) LLMOption {
	return func(l *LLM) {
		l.fallback = p
	}
}

// WithModel sets the model name sent with the planning request.
func WithModel(model string) LLMOption {
	return func(l *LLM) {
		l.model = model
	}
}

// WithPrompts replaces the embedded prompt registry.
func WithPrompts(r *prompt.Registry) LLMOption {
	return func(l *LLM) {
		l.prompts = r
	}
}

// NewLLM returns a model-backed planner.
func NewLLM(llm orchestrator.Completer, opts ...LLMOption) *LLM {
	l := &LLM{llm: llm, fallback: NewHeuristic(), prompts: prompt.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Plan implements orchestrator.Planner.
func (l *LLM) Plan(ctx context.Context, question string, graph *orchestrator.CapabilityGraph) (*orchestrator.Plan, error) {
	if l.llm == nil {
		return l.fallback.Plan(ctx, question, graph)
	}
	system, err := l.prompts.RenderPrompt(prompt.PlannerSystem, map[string]any{
		"Languages":  Languages,
		"StepSchema": StepSchema(),
	})
	if err != nil {
		return nil, orchestrator.NewInternalError("planning", "render planner prompt", err)
	}
	user, err := l.prompts.RenderPrompt(prompt.PlannerUser, map[string]any{
		"Question": question,
		"Catalog":  graph.Catalog(),
	})
	if err != nil {
		return nil, orchestrator.NewInternalError("planning", "render planner prompt", err)
	}

	reply, err := l.llm.Complete(ctx, orchestrator.CompletionRequest{
		System: system,
		User:   user,
		Model:  l.model,
		JSON:   true,
	})
	if err != nil {
		if orchestrator.IsCancellation(err) && ctx.Err() != nil {
			return nil, orchestrator.NewCancelledError("planning", err)
		}
		logger.ContextKV(ctx, xlog.WARNING, "status", "llm_plan_failed", "err", err.Error())
		return l.fallback.Plan(ctx, question, graph)
	}

	plan := ParseSteps(ctx, llmjson.DecodeObject(reply), graph)
	if plan.IsEmpty() {
		logger.ContextKV(ctx, xlog.WARNING, "status", "llm_plan_empty", "reply_len", len(reply))
		return l.fallback.Plan(ctx, question, graph)
	}
	logger.ContextKV(ctx, xlog.INFO, "status", "llm_plan", "steps", plan.Len())
	return plan, nil
}

// ParseSteps builds a plan from the decoded "steps" array. Tool keys are
// resolved against graph; steps naming unknown tools are dropped.
func ParseSteps(ctx context.Context, obj map[string]any, graph *orchestrator.CapabilityGraph) *orchestrator.Plan {
	raw, _ := obj[llmjson.StepsKey].([]any)
	plan := &orchestrator.Plan{}
	for i, item := range raw {
		s, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, ok := ResolveToolKey(str(s["tool_key"]), graph)
		if !ok {
			logger.ContextKV(ctx, xlog.WARNING, "status", "unknown_tool_proposed", "tool", key)
			continue
		}
		step := orchestrator.PlanStep{
			ID:       str(s["id"]),
			Intent:   str(s["intent"]),
			ToolKey:  key,
			ArgsHint: map[string]any{},
		}
		if step.ID == "" {
			step.ID = fmt.Sprintf("step_%d", i+1)
		}
		if step.Intent == "" {
			step.Intent = "Run " + key
		}
		if hint, ok := s["args_hint"].(map[string]any); ok {
			step.ArgsHint = hint
		}
		if deps, ok := s["depends_on"].([]any); ok {
			for _, d := range deps {
				if id := str(d); id != "" {
					step.DependsOn = append(step.DependsOn, id)
				}
			}
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}

// ResolveToolKey applies the alias table and, for TikTok tools, looks the
// tool name up on any server whose key contains "tiktok".
func ResolveToolKey(key string, graph *orchestrator.CapabilityGraph) (string, bool) {
	key = strings.TrimSpace(key)
	if alias, ok := toolAliases[key]; ok {
		key = alias
	}
	if graph.HasTool(key) {
		return key, true
	}
	if strings.Contains(key, ".tiktok_") {
		_, name, _ := strings.Cut(key, ".")
		if spec, ok := graph.FindByToolName(name, "tiktok"); ok {
			return spec.Key(), true
		}
	}
	return key, false
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
