package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// OpenAIOptions configures the OpenAI adapter.
type OpenAIOptions struct {
	Model               string
	MaxCompletionTokens int64
}

// OpenAIClient adapts the OpenAI Chat Completions API to the Client contract.
type OpenAIClient struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAIClient creates an OpenAI-backed client. The API key is read from
// the environment by the SDK.
func NewOpenAIClient(optFns ...func(o *OpenAIOptions)) *OpenAIClient {
	opts := OpenAIOptions{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := openai.NewClient()
	return &OpenAIClient{client: &client, opts: opts}
}

// Invoke sends the conversation to the Chat Completions API.
func (c *OpenAIClient) Invoke(ctx context.Context, messages []Message) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:               c.opts.Model,
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api returned no choices")
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// ModelName identifies the configured model.
func (c *OpenAIClient) ModelName() string {
	return c.opts.Model
}

var _ Client = (*OpenAIClient)(nil)
