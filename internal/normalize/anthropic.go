package normalize

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sematica-ai/memory-engine/internal/config"
)

// AnthropicClient calls the Anthropic Messages API directly.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient builds a direct Anthropic client. The API key is
// required; the model falls back to the default haiku.
func NewAnthropicClient(cfg config.AnthropicLLMConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic client: api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "claude-haiku-4-5-20251001"
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  anthropic.Model(model),
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	if len(message.Content) == 0 || message.Content[0].Type != "text" {
		return "", fmt.Errorf("anthropic messages: no text block in response")
	}
	return message.Content[0].Text, nil
}
