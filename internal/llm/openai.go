package llm

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

// ChatClient captures the subset of the openai-go client used here. It is
// satisfied by *openai.ChatCompletionService.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI completes through the Chat Completions API at temperature 0.
type OpenAI struct {
	chat  ChatClient
	model string
}

// NewOpenAI wraps an existing chat client.
func NewOpenAI(chat ChatClient, model string) (*OpenAI, error) {
	if chat == nil {
		return nil, orchestrator.NewConfigurationError("openai client is required", nil)
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{chat: chat, model: model}, nil
}

// NewOpenAIFromAPIKey constructs a client with the default HTTP transport.
func NewOpenAIFromAPIKey(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, orchestrator.NewConfigurationError("OPENAI_API_KEY is not set", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return NewOpenAI(&client.Chat.Completions, model)
}

// Complete implements orchestrator.Completer.
func (c *OpenAI) Complete(ctx context.Context, req orchestrator.CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(0),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", orchestrator.NewLLMError(string(ProviderOpenAI), errors.Wrap(err, "chat completion"))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", orchestrator.NewLLMError(string(ProviderOpenAI), errors.New("empty response"))
	}
	return resp.Choices[0].Message.Content, nil
}
