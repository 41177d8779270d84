// Package llm adapts chat model providers to orchestrator.Completer.
package llm

import (
	"context"
	"strings"

	"github.com/effective-security/xlog"
	"github.com/firebase/genkit/go/genkit"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "llm")

// Provider names a model backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGenkit    Provider = "genkit"
)

// DefaultModel is used when neither configuration nor environment names one.
const DefaultModel = "gpt-4o-mini"

// ProviderFor infers the backend from a model identifier.
func ProviderFor(model string) Provider {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "claude"), strings.HasPrefix(m, "anthropic/"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gemini"), strings.HasPrefix(m, "googleai/"), strings.HasPrefix(m, "vertexai/"):
		return ProviderGenkit
	default:
		return ProviderOpenAI
	}
}

// Options selects and configures a provider.
type Options struct {
	// Provider overrides inference from Model.
	Provider Provider
	Model    string
	APIKey   string
	// BaseURL points the OpenAI client at a compatible endpoint.
	BaseURL string
	// MaxTokens caps Anthropic responses.
	MaxTokens int
	// RequestsPerSecond enables client side throttling when positive.
	RequestsPerSecond float64
	Burst             int
	// Cache memoizes completions when set.
	Cache orchestrator.Cache
}

// New builds the completer described by opts, wrapped with rate limiting
// and caching when configured.
func New(ctx context.Context, opts Options) (orchestrator.Completer, error) {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	provider := opts.Provider
	if provider == "" {
		provider = ProviderFor(opts.Model)
	}

	var (
		c   orchestrator.Completer
		err error
	)
	switch provider {
	case ProviderAnthropic:
		c, err = NewAnthropicFromAPIKey(opts.APIKey, strings.TrimPrefix(opts.Model, "anthropic/"), opts.MaxTokens)
	case ProviderGenkit:
		c, err = NewGenkitFromAPIKey(ctx, opts.APIKey, opts.Model)
	case ProviderOpenAI:
		c, err = NewOpenAIFromAPIKey(opts.APIKey, opts.BaseURL, opts.Model)
	default:
		return nil, orchestrator.NewConfigurationError("unknown LLM provider "+string(provider), nil)
	}
	if err != nil {
		return nil, err
	}

	if opts.RequestsPerSecond > 0 {
		c = NewRateLimited(c, opts.RequestsPerSecond, opts.Burst)
	}
	if opts.Cache != nil {
		c = NewCached(c, opts.Cache)
	}
	logger.KV(xlog.INFO, "status", "completer_ready", "provider", provider, "model", opts.Model)
	return c, nil
}

// Func adapts a function to orchestrator.Completer.
type Func func(ctx context.Context, req orchestrator.CompletionRequest) (string, error)

// Complete implements orchestrator.Completer.
func (f Func) Complete(ctx context.Context, req orchestrator.CompletionRequest) (string, error) {
	return f(ctx, req)
}

// GenkitInstance returns the Genkit instance behind c, looking through the
// rate limiting and caching wrappers, or nil when c is not Genkit backed.
func GenkitInstance(c orchestrator.Completer) *genkit.Genkit {
	for c != nil {
		switch t := c.(type) {
		case *Genkit:
			return t.Instance()
		case interface{ Unwrap() orchestrator.Completer }:
			c = t.Unwrap()
		default:
			return nil
		}
	}
	return nil
}
