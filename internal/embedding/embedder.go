// Package embedding turns text into unit-normalized float32 vectors.
// Providers: OpenAI, Bedrock Titan, and a deterministic mock for tests
// and offline development.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/sematica-ai/memory-engine/internal/config"
)

// Embedder produces embedding vectors for text. Implementations return
// unit-normalized vectors so cosine similarity reduces to a dot product.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the underlying model, used for cache keys.
	Model() string
}

// New builds the embedder selected by configuration.
func New(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg.OpenAI)
	case "bedrock":
		return NewBedrockEmbedder(ctx, cfg.Bedrock)
	case "mock":
		return NewMockEmbedder(1536), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// Normalize scales a vector to unit length in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// MockEmbedder generates deterministic embeddings from text content,
// without any network calls. Identical texts map to identical vectors.
type MockEmbedder struct {
	dimension int
}

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 1536
	}
	return &MockEmbedder{dimension: dimension}
}

var _ Embedder = (*MockEmbedder)(nil)

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dimension)
	for i, ch := range text {
		vec[i%m.dimension] += float32(ch) / 255.0
	}
	if text == "" {
		vec[0] = 1
	}
	return Normalize(vec), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *MockEmbedder) Model() string {
	return fmt.Sprintf("mock-%d", m.dimension)
}
