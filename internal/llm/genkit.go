package llm

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

// TextGenerator produces text for a system+user turn on a named model.
type TextGenerator func(ctx context.Context, system, user, model string) (string, error)

// Genkit completes through a Genkit instance, which serves Gemini models
// via the Google AI plugin.
type Genkit struct {
	g        *genkit.Genkit
	generate TextGenerator
	model    string
}

// NewGenkit wraps a generator. The Genkit instance may be nil when the
// generator does not need it.
func NewGenkit(g *genkit.Genkit, generate TextGenerator, model string) (*Genkit, error) {
	if generate == nil {
		return nil, orchestrator.NewConfigurationError("genkit generator is required", nil)
	}
	return &Genkit{g: g, generate: generate, model: genkitModelName(model)}, nil
}

// NewGenkitFromAPIKey initializes Genkit with the Google AI plugin.
func NewGenkitFromAPIKey(ctx context.Context, apiKey, model string) (*Genkit, error) {
	if apiKey == "" {
		return nil, orchestrator.NewConfigurationError("GEMINI_API_KEY is not set", nil)
	}
	name := genkitModelName(model)
	g, err := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: apiKey}),
		genkit.WithDefaultModel(name),
	)
	if err != nil {
		return nil, orchestrator.NewLLMError(string(ProviderGenkit), errors.Wrap(err, "genkit init"))
	}
	generate := func(ctx context.Context, system, user, model string) (string, error) {
		return genkit.GenerateText(ctx, g,
			ai.WithModelName(model),
			ai.WithSystem("%s", system),
			ai.WithPrompt("%s", user),
		)
	}
	return NewGenkit(g, generate, name)
}

// Instance returns the underlying Genkit instance, or nil.
func (c *Genkit) Instance() *genkit.Genkit {
	return c.g
}

// Complete implements orchestrator.Completer.
func (c *Genkit) Complete(ctx context.Context, req orchestrator.CompletionRequest) (string, error) {
	model := c.model
	if req.Model != "" && ProviderFor(req.Model) == ProviderGenkit {
		model = genkitModelName(req.Model)
	}
	text, err := c.generate(ctx, req.System, req.User, model)
	if err != nil {
		return "", orchestrator.NewLLMError(string(ProviderGenkit), err)
	}
	return text, nil
}

// genkitModelName qualifies bare Gemini names with the googleai provider.
func genkitModelName(model string) string {
	if model == "" {
		return "googleai/gemini-2.0-flash"
	}
	if strings.Contains(model, "/") {
		return model
	}
	return "googleai/" + model
}
