package llm

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

// DefaultAnthropicMaxTokens caps responses when no limit is configured.
const DefaultAnthropicMaxTokens = 2048

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic completes through the Messages API.
type Anthropic struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// NewAnthropic wraps an existing messages client.
func NewAnthropic(msg MessagesClient, model string, maxTokens int) (*Anthropic, error) {
	if msg == nil {
		return nil, orchestrator.NewConfigurationError("anthropic client is required", nil)
	}
	if model == "" {
		return nil, orchestrator.NewConfigurationError("anthropic model is required", nil)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	return &Anthropic{msg: msg, model: model, maxTokens: int64(maxTokens)}, nil
}

// NewAnthropicFromAPIKey constructs a client with the default HTTP transport.
func NewAnthropicFromAPIKey(apiKey, model string, maxTokens int) (*Anthropic, error) {
	if apiKey == "" {
		return nil, orchestrator.NewConfigurationError("ANTHROPIC_API_KEY is not set", nil)
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&ac.Messages, model, maxTokens)
}

// Complete implements orchestrator.Completer. JSON requests rely on the
// prompt; the Messages API has no JSON response mode.
func (c *Anthropic) Complete(ctx context.Context, req orchestrator.CompletionRequest) (string, error) {
	model := req.Model
	if model == "" || ProviderFor(model) != ProviderAnthropic {
		model = c.model
	}
	params := sdk.MessageNewParams{
		MaxTokens: c.maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.User))},
		Model:     sdk.Model(strings.TrimPrefix(model, "anthropic/")),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	params.Temperature = sdk.Float(0)

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", orchestrator.NewLLMError(string(ProviderAnthropic), errors.Wrap(err, "messages.new"))
	}
	if msg == nil {
		return "", orchestrator.NewLLMError(string(ProviderAnthropic), errors.New("response message is nil"))
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
