package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "goroutines are cheap")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "goroutines are cheap")
	require.NoError(t, err)
	c, err := e.Embed(ctx, "something else entirely")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text, same vector")
	assert.NotEqual(t, a, c, "different text, different vector")
	assert.Len(t, a, 64)
}

func TestMockEmbedder_UnitNorm(t *testing.T) {
	e := NewMockEmbedder(32)

	vec, err := e.Embed(context.Background(), "some text to embed")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorNorm(vec), 1e-6)
}

func TestMockEmbedder_EmptyText(t *testing.T) {
	e := NewMockEmbedder(16)

	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, vec, 16)
	assert.InDelta(t, 1.0, float64(vec[0]), 1e-6, "empty text maps to a fixed unit vector")
}

func TestMockEmbedder_DefaultDimension(t *testing.T) {
	e := NewMockEmbedder(0)
	assert.Equal(t, "mock-1536", e.Model())

	vec, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, vec, 1536)
}

func TestMockEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewMockEmbedder(32)
	ctx := context.Background()

	texts := []string{"first", "second", "third"}
	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestNormalize(t *testing.T) {
	vec := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)

	zero := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero, "zero vectors pass through")
}
