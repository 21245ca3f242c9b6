package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sematica-ai/memory-engine/internal/storage"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json untouched", `["a", "b"]`, `["a", "b"]`},
		{"plain fence", "```\n[\"a\"]\n```", `["a"]`},
		{"json fence", "```json\n[\"a\"]\n```", `["a"]`},
		{"surrounding whitespace", "  ```json\n[\"a\"]\n```  ", `["a"]`},
		{"fence without newline", "```json[]```", "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.in))
		})
	}
}

func TestDecompose_BlankInputSkipsLLM(t *testing.T) {
	var calls atomic.Int64
	n := NewNormalizer(&MockClient{
		CompleteFunc: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			calls.Add(1)
			return "[]", nil
		},
	}, nil)

	atoms, err := n.Decompose(context.Background(), "   \n\t ")
	require.NoError(t, err)
	assert.Nil(t, atoms)
	assert.Zero(t, calls.Load())
}

func TestDecompose_ParsesFencedResponse(t *testing.T) {
	n := NewNormalizer(&MockClient{
		CompleteFunc: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			assert.Equal(t, decomposeMaxTokens, maxTokens)
			assert.Contains(t, prompt, "some raw notes")
			return "```json\n[\"first insight\", \"second insight\"]\n```", nil
		},
	}, nil)

	atoms, err := n.Decompose(context.Background(), "some raw notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"first insight", "second insight"}, atoms)
}

func TestDecompose_BadJSON(t *testing.T) {
	n := NewNormalizer(&MockClient{
		CompleteFunc: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			return "sorry, I cannot help with that", nil
		},
	}, nil)

	_, err := n.Decompose(context.Background(), "text")
	assert.ErrorContains(t, err, "parse response")
}

func TestClassify(t *testing.T) {
	n := NewNormalizer(&MockClient{
		CompleteFunc: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			assert.Equal(t, classifyMaxTokens, maxTokens)
			return `{"frame": "causal", "normalized": "Slow queries cause timeouts.", "entities": ["query"], "problems": ["timeout"], "resolutions": [], "contexts": []}`, nil
		},
	}, nil)

	c, err := n.Classify(context.Background(), "slow queries time out")
	require.NoError(t, err)
	assert.Equal(t, "causal", c.Frame)
	assert.Equal(t, "Slow queries cause timeouts.", c.Normalized)
	assert.Equal(t, []string{"query"}, c.Entities)
	assert.Equal(t, []string{"timeout"}, c.Problems)
}

func TestClassify_RejectsUnknownFrame(t *testing.T) {
	n := NewNormalizer(&MockClient{
		CompleteFunc: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			return `{"frame": "vibes", "normalized": "whatever"}`, nil
		},
	}, nil)

	_, err := n.Classify(context.Background(), "text")
	assert.Error(t, err)
}

// scriptedClient answers the decomposition prompt with the given atoms
// and classification prompts with the per-atom response.
func scriptedClient(t *testing.T, atoms []string, classifications map[string]Classification) Client {
	t.Helper()
	return &MockClient{
		CompleteFunc: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			if strings.HasPrefix(prompt, "Decompose") {
				b, err := json.Marshal(atoms)
				require.NoError(t, err)
				return string(b), nil
			}
			for atom, c := range classifications {
				if strings.Contains(prompt, atom) {
					b, err := json.Marshal(c)
					require.NoError(t, err)
					return string(b), nil
				}
			}
			return "", fmt.Errorf("unexpected prompt: %s", prompt)
		},
	}
}

func TestNormalize_PreservesAtomOrder(t *testing.T) {
	atoms := []string{
		"slow queries cause login timeouts",
		"deploys require passing CI",
		"prefer batching over per-row inserts",
	}
	n := NewNormalizer(scriptedClient(t, atoms, map[string]Classification{
		atoms[0]: {
			Frame:      "causal",
			Normalized: "Slow queries cause login timeouts because the index is missing.",
			Entities:   []string{"index"},
			Problems:   []string{"timeout"},
		},
		atoms[1]: {
			Frame:      "constraint",
			Normalized: "Deploying to production requires a passing CI run.",
			Entities:   []string{"ci"},
			Contexts:   []string{"production"},
		},
		atoms[2]: {
			Frame:      "pattern",
			Normalized: "When inserting many rows, prefer batching over per-row inserts because round trips dominate.",
			Entities:   []string{"batch insert"},
			Problems:   []string{"slow inserts"},
		},
	}), nil)

	insights, err := n.Normalize(context.Background(), "raw notes", "conversation", []string{"infra"})
	require.NoError(t, err)
	require.Len(t, insights, 3)

	assert.Equal(t, storage.FrameCausal, insights[0].Frame)
	assert.Equal(t, storage.FrameConstraint, insights[1].Frame)
	assert.Equal(t, storage.FramePattern, insights[2].Frame)

	for i, insight := range insights {
		assert.Equal(t, atoms[i], insight.Text)
		assert.Equal(t, []string{"infra"}, insight.Domains)
		assert.Equal(t, "conversation", insight.Source)
		assert.Greater(t, insight.Confidence, 0.0)
	}
	// Long, specific, multi-subject insights score high.
	assert.InDelta(t, 1.0, insights[0].Confidence, 1e-9)
}

func TestNormalize_EmptyDecomposition(t *testing.T) {
	n := NewNormalizer(&MockClient{}, nil) // default mock returns []

	insights, err := n.Normalize(context.Background(), "nothing useful here", "conversation", nil)
	require.NoError(t, err)
	assert.Nil(t, insights)
}

func TestNormalize_ClassifyFailurePropagates(t *testing.T) {
	n := NewNormalizer(&MockClient{
		CompleteFunc: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			if strings.HasPrefix(prompt, "Decompose") {
				return `["one atom"]`, nil
			}
			return "", fmt.Errorf("model overloaded")
		},
	}, nil)

	_, err := n.Normalize(context.Background(), "text", "conversation", nil)
	assert.ErrorContains(t, err, "model overloaded")
}
