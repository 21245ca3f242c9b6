// Package normalize decomposes free text into atomic insights and
// classifies each into one of the six semantic frames using an LLM,
// then scores confidence with local heuristics.
package normalize

import (
	"context"
	"fmt"

	"github.com/sematica-ai/memory-engine/internal/config"
)

// Client is the minimal completion surface the normalizer needs from an
// LLM provider.
type Client interface {
	// Complete sends one user prompt and returns the text of the first
	// response block.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// NewClient builds the LLM client selected by configuration.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg.Anthropic)
	case "bedrock":
		return NewBedrockClient(ctx, cfg.Bedrock)
	case "mock":
		return &MockClient{}, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// MockClient scripts completions for tests. With no CompleteFunc it
// returns an empty JSON array, so normalization yields no insights.
type MockClient struct {
	CompleteFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt, maxTokens)
	}
	return "[]", nil
}
