package normalize

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/sematica-ai/memory-engine/internal/config"
)

// BedrockClient calls Anthropic models served through the Bedrock
// runtime using the anthropic message payload.
type BedrockClient struct {
	client *bedrockruntime.Client
	model  string
}

var _ Client = (*BedrockClient)(nil)

// NewBedrockClient resolves AWS credentials from the environment (and
// optional profile) and targets the configured model.
func NewBedrockClient(ctx context.Context, cfg config.BedrockLLMConfig) (*BedrockClient, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "us.anthropic.claude-haiku-4-5-20251001-v1:0"
	}
	return &BedrockClient{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  model,
	}, nil
}

type bedrockMessageRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockMessageResponse struct {
	Content []bedrockContentBlock `json:"content"`
}

func (c *BedrockClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(bedrockMessageRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockContentBlock{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encode bedrock request: %w", err)
	}

	modelID := c.model
	contentType := "application/json"
	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &modelID,
		ContentType: &contentType,
		Accept:      &contentType,
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke bedrock model: %w", err)
	}

	var parsed bedrockMessageResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", fmt.Errorf("decode bedrock response: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("bedrock response has no text block")
}
