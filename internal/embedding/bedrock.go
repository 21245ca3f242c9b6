package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"golang.org/x/sync/errgroup"

	"github.com/sematica-ai/memory-engine/internal/config"
)

// bedrockBatchWorkers bounds concurrent InvokeModel calls; Titan has no
// batch endpoint so batches fan out one request per text.
const bedrockBatchWorkers = 10

// BedrockEmbedder calls Amazon Titan text embeddings through the Bedrock
// runtime.
type BedrockEmbedder struct {
	client *bedrockruntime.Client
	model  string
}

var _ Embedder = (*BedrockEmbedder)(nil)

// NewBedrockEmbedder resolves AWS credentials from the environment (and
// optional profile) and builds a Titan-backed embedder.
func NewBedrockEmbedder(ctx context.Context, cfg config.BedrockEmbeddingConfig) (*BedrockEmbedder, error) {
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
		model = "amazon.titan-embed-text-v2:0"
	}
	return &BedrockEmbedder{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  model,
	}, nil
}

func (e *BedrockEmbedder) Model() string {
	return e.model
}

type titanEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *BedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbeddingRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("encode titan request: %w", err)
	}

	modelID := e.model
	contentType := "application/json"
	resp, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &modelID,
		ContentType: &contentType,
		Accept:      &contentType,
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke titan model: %w", err)
	}

	var parsed titanEmbeddingResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode titan response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("titan returned empty embedding")
	}
	return Normalize(parsed.Embedding), nil
}

// EmbedBatch fans texts out across a bounded worker pool and gathers
// results back in input order.
func (e *BedrockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bedrockBatchWorkers)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
