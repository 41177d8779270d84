// Package synth turns a plan step into the concrete arguments of its tool
// call.
package synth

import (
	"context"
	"regexp"
	"strings"

	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llmjson"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/prompt"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "synth")

const argumentsKey = "arguments"

// Tools on these servers take a loosely declared argument object, so the
// prompt carries a hand-written description instead of the schema lines.
var argHints = map[string]map[string]string{
	"youtube": {
		"search_videos":      "query: string",
		"upload_video":       "file: string (path to video), title: string, description?: string, tags?: array[string], categoryId?: string, privacyStatus?: string",
		"add_comment":        "video_id: string, text: string",
		"reply_comment":      "comment_id: string, text: string",
		"get_video_comments": "video_id: string, max_results?: integer",
		"rate_video":         "video_id: string, rating: string (like|dislike|none)",
		"video_analytics":    "video_id: string",
		"remove_video":       "video_id: string",
	},
	"google_ads": {
		"create_customer": "a: string (country name only, e.g., 'United States', 'India', 'Germany' - do NOT include location objects or geoTargetConstants)",
		"add_campaign":    "a: string (customer ID only, e.g., '123456789')",
		"remove_campaign": "a: string (customer ID only), b: string (campaign ID only, e.g., '123456789')",
		"get_campaign":    "a: string (customer ID only, e.g., '123456789')",
		"add_ad_group":    "a: string (ad group name only, e.g., 'Electronics Ad Group'), b: string (campaign ID only, e.g., '123456789')",
		"update_campaign": "a: string (campaign ID only, e.g., '123456789'), b: string (field to update: 'status', 'name', or 'budget'), c: string (new value only, e.g., 'paused', 'Summer Sale 2024', '2000')",
	},
}

var (
	postText      = regexp.MustCompile(`(?i)post\s+(.+)$`)
	postCommand   = regexp.MustCompile(`(?i)^\s*create\s+(a\s+)?(twitter|x)\s+post\s*`)
	createPostKey = orchestrator.ToolKey("x", "create_post")
)

// Synthesizer implements orchestrator.ArgumentSynthesizer.
type Synthesizer struct {
	llm     orchestrator.Completer
	prompts *prompt.Registry
	model   string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the model name passed with every completion request.
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithPrompts replaces the embedded prompt registry.
func WithPrompts(r *prompt.Registry) Option {
	return func(s *Synthesizer) {
		s.prompts = r
	}
}

// New returns a synthesizer. llm may be nil, in which case arguments come
// only from the plan's hints.
func New(llm orchestrator.Completer, opts ...Option) *Synthesizer {
	s := &Synthesizer{llm: llm, prompts: prompt.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize implements orchestrator.ArgumentSynthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, step orchestrator.PlanStep, spec orchestrator.ToolSpec, results map[string]string) (map[string]any, error) {
	if !spec.Schema.HasParams() {
		logger.ContextKV(ctx, xlog.DEBUG, "status", "no_arguments", "tool", spec.Key())
		return map[string]any{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, orchestrator.NewCancelledError("synthesis", err)
	}

	args := s.generate(ctx, question, step, spec)
	args = unwrap(args, spec.Schema)
	args = mergeHint(args, step.ArgsHint, spec.Schema)
	if spec.Key() == createPostKey {
		repairPost(args, question)
	}
	args = Interpolate(args, results).(map[string]any)

	final := Coerce(spec.Schema, args)
	logger.ContextKV(ctx, xlog.DEBUG, "status", "arguments_ready", "step", step.ID, "tool", spec.Key(), "args", final)
	return final, nil
}

func (s *Synthesizer) generate(ctx context.Context, question string, step orchestrator.PlanStep, spec orchestrator.ToolSpec) map[string]any {
	if s.llm == nil {
		return map[string]any{}
	}
	system, err := s.prompts.RenderPrompt(prompt.SynthSystem, nil)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "status", "prompt_failed", "err", err.Error())
		return map[string]any{}
	}
	user, err := s.prompts.RenderPrompt(prompt.SynthUser, map[string]any{
		"Question":    question,
		"Intent":      step.Intent,
		"ToolKey":     spec.Key(),
		"SchemaLines": SchemaLines(spec),
	})
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "status", "prompt_failed", "err", err.Error())
		return map[string]any{}
	}

	reply, err := s.llm.Complete(ctx, orchestrator.CompletionRequest{
		System: system,
		User:   user,
		Model:  s.model,
		JSON:   true,
	})
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING, "status", "generation_failed", "tool", spec.Key(), "err", err.Error())
		return map[string]any{}
	}
	args := llmjson.DecodeObject(reply)
	logger.ContextKV(ctx, xlog.INFO, "status", "arguments_generated", "tool", spec.Key())
	return args
}

// SchemaLines renders the "name: type" lines shown to the model, or the
// hand-written hint for tools that have one.
func SchemaLines(spec orchestrator.ToolSpec) []string {
	if hint, ok := argHints[spec.ServerKey][spec.ToolName]; ok {
		return []string{hint}
	}
	params := spec.Schema.Params()
	lines := make([]string, len(params))
	for i, p := range params {
		lines[i] = p.Name + ": " + string(p.Type)
	}
	return lines
}

// unwrap replaces a reply of the form {"arguments": {...}} by the inner
// object when none of the declared names is at the top level.
func unwrap(args map[string]any, schema orchestrator.ToolSchema) map[string]any {
	nested, ok := args[argumentsKey].(map[string]any)
	if !ok {
		return args
	}
	for _, p := range schema.Params() {
		if _, found := args[p.Name]; found {
			return args
		}
	}
	out := make(map[string]any, len(nested))
	for k, v := range nested {
		out[k] = v
	}
	return out
}

// mergeHint fills args from the planner hint without overwriting generated
// values, then lifts a nested "arguments" object onto the declared names.
func mergeHint(args, hint map[string]any, schema orchestrator.ToolSchema) map[string]any {
	for k, v := range hint {
		if k == argumentsKey {
			hv, ok := v.(map[string]any)
			if !ok {
				continue
			}
			existing, ok := args[argumentsKey].(map[string]any)
			if !ok {
				existing = make(map[string]any, len(hv))
				args[argumentsKey] = existing
			}
			for ak, av := range hv {
				if _, found := existing[ak]; !found {
					existing[ak] = av
				}
			}
			continue
		}
		if _, found := args[k]; !found {
			args[k] = v
		}
	}

	if nested, ok := args[argumentsKey].(map[string]any); ok {
		for _, p := range schema.Params() {
			if _, found := args[p.Name]; found {
				continue
			}
			if v, found := nested[p.Name]; found {
				args[p.Name] = v
			}
		}
		delete(args, argumentsKey)
	}

	hintNested, _ := hint[argumentsKey].(map[string]any)
	for _, p := range schema.Params() {
		if _, found := args[p.Name]; found {
			continue
		}
		if v, found := hint[p.Name]; found {
			args[p.Name] = v
		} else if v, found := hintNested[p.Name]; found {
			args[p.Name] = v
		}
	}
	return args
}

// repairPost makes sure "a" holds the text of the post.
func repairPost(args map[string]any, question string) {
	text := ""
	if nested, ok := args[argumentsKey].(map[string]any); ok {
		text = firstText(nested, "a", "text")
	}
	if text == "" {
		text = firstText(args, "a", "text")
	}
	if text == "" {
		q := strings.TrimSpace(question)
		if m := postText.FindStringSubmatch(q); m != nil {
			text = strings.TrimSpace(m[1])
		}
		if text == "" {
			text = strings.TrimSpace(postCommand.ReplaceAllString(question, ""))
		}
	}
	if text != "" {
		args["a"] = text
		delete(args, argumentsKey)
	}
}

func firstText(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := strings.TrimSpace(toText(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func toText(v any) string {
	s, err := toString(v)
	if err != nil {
		return ""
	}
	return s
}
