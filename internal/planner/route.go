package planner

import (
	"context"
	"fmt"

	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/format"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llmjson"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/prompt"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/synth"
)

// Direct answers a question with exactly one model-chosen tool call.
type Direct struct {
	llm     orchestrator.Completer
	invoker orchestrator.ToolInvoker
	prompts *prompt.Registry
	model   string
}

// NewDirect returns a single-shot router.
func NewDirect(llm orchestrator.Completer, invoker orchestrator.ToolInvoker, model string) *Direct {
	return &Direct{llm: llm, invoker: invoker, prompts: prompt.Default(), model: model}
}

// Selection is the model's routing decision.
type Selection struct {
	Server    string
	Tool      string
	Arguments map[string]any
}

// Select asks the model for a server, tool and arguments. ok is false when
// any of the three is missing.
func (d *Direct) Select(ctx context.Context, question string, graph *orchestrator.CapabilityGraph) (Selection, bool, error) {
	system, err := d.prompts.RenderPrompt(prompt.RouterSystem, map[string]any{"Catalog": graph.Catalog()})
	if err != nil {
		return Selection{}, false, orchestrator.NewInternalError("routing", "render router prompt", err)
	}
	user, err := d.prompts.RenderPrompt(prompt.RouterUser, map[string]any{"Question": question})
	if err != nil {
		return Selection{}, false, orchestrator.NewInternalError("routing", "render router prompt", err)
	}
	reply, err := d.llm.Complete(ctx, orchestrator.CompletionRequest{System: system, User: user, Model: d.model, JSON: true})
	if err != nil {
		return Selection{}, false, err
	}
	obj := llmjson.DecodeObject(reply)
	sel := Selection{Server: str(obj["server"]), Tool: str(obj["tool"])}
	sel.Arguments, _ = obj["arguments"].(map[string]any)
	return sel, sel.Server != "" && sel.Tool != "" && len(sel.Arguments) > 0, nil
}

// Route implements orchestrator.DirectRouter.
func (d *Direct) Route(ctx context.Context, question string, graph *orchestrator.CapabilityGraph) (string, error) {
	if d.llm == nil {
		return "", orchestrator.NewConfigurationError("direct routing needs a language model", nil)
	}
	if d.invoker == nil {
		return "", orchestrator.NewConfigurationError("direct routing needs a tool invoker", nil)
	}

	sel, ok, err := d.Select(ctx, question, graph)
	if err != nil {
		return "", err
	}
	if !ok {
		return orchestrator.CouldNotDetermineMessage, nil
	}
	server, found := graph.Server(sel.Server)
	if !found {
		return fmt.Sprintf("Selected server '%s' is not available.", sel.Server), nil
	}

	args := sel.Arguments
	key := orchestrator.ToolKey(sel.Server, sel.Tool)
	if spec, known := graph.Tool(key); known {
		args = synth.Coerce(spec.Schema, args)
	}
	logger.ContextKV(ctx, xlog.INFO, "status", "router_selection", "server", sel.Server, "tool", sel.Tool, "args", args)

	res, err := d.invoker.Invoke(ctx, server, sel.Tool, args)
	if err != nil {
		return "", orchestrator.NewToolExecutionError("routing", key, err)
	}
	return format.Text(res), nil
}
