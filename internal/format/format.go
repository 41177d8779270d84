// Package format renders tool results and final answers.
package format

import (
	"context"
	"strings"

	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/adapters"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llmjson"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/prompt"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "format")

// Text reduces a tool result to one string: the first text item, else the
// first JSON item or the structured content, else the first item as is.
func Text(res *orchestrator.ToolResult) string {
	if res == nil {
		return ""
	}
	for _, item := range res.Content {
		if item.Text != nil {
			return *item.Text
		}
	}
	for _, item := range res.Content {
		if item.JSON != nil {
			if s, err := llmjson.Compact(item.JSON); err == nil {
				return s
			}
		}
	}
	if res.Structured != nil {
		if s, err := llmjson.Compact(res.Structured); err == nil {
			return s
		}
	}
	if len(res.Content) > 0 {
		item := res.Content[0]
		if item.Raw != nil {
			return adapters.RenderValue(item.Raw)
		}
		return "<" + item.Type + ">"
	}
	return ""
}

// Humanizer rewrites a raw summary into prose with a model.
type Humanizer struct {
	llm     orchestrator.Completer
	prompts *prompt.Registry
	model   string
}

// NewHumanizer returns a humanizer. model may be empty.
func NewHumanizer(llm orchestrator.Completer, model string) *Humanizer {
	return &Humanizer{llm: llm, prompts: prompt.Default(), model: model}
}

// Humanize implements orchestrator.Humanizer. Any failure returns summary
// unchanged.
func (h *Humanizer) Humanize(ctx context.Context, question, summary string) string {
	if h == nil || h.llm == nil || strings.TrimSpace(summary) == "" {
		return summary
	}
	system, err := h.prompts.RenderPrompt(prompt.HumanizeSystem, nil)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "status", "prompt_failed", "err", err.Error())
		return summary
	}
	user, err := h.prompts.RenderPrompt(prompt.HumanizeUser, map[string]string{
		"Question": question,
		"Summary":  summary,
	})
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "status", "prompt_failed", "err", err.Error())
		return summary
	}
	reply, err := h.llm.Complete(ctx, orchestrator.CompletionRequest{System: system, User: user, Model: h.model})
	if err != nil {
		logger.ContextKV(ctx, xlog.WARNING, "status", "humanize_failed", "err", err.Error())
		return summary
	}
	if reply = strings.TrimSpace(reply); reply == "" {
		return summary
	}
	return reply
}

// ASCIIPolicy keeps printable ASCII plus newlines and tabs. Other runes,
// including invalid UTF-8, become Replacement.
type ASCIIPolicy struct {
	Replacement string
}

// Apply implements orchestrator.OutputFilter.
func (p ASCIIPolicy) Apply(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 32 && r <= 126, r == '\n', r == '\r', r == '\t':
			b.WriteRune(r)
		default:
			b.WriteString(p.Replacement)
		}
	}
	return b.String()
}
