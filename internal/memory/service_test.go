package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sematica-ai/memory-engine/internal/embedding"
	"github.com/sematica-ai/memory-engine/internal/storage"
)

// scriptedNormalizer records its inputs and returns canned insights.
type scriptedNormalizer struct {
	insights []*storage.Insight
	err      error

	lastText    string
	lastSource  string
	lastDomains []string
}

func (s *scriptedNormalizer) Normalize(_ context.Context, text, source string, domains []string) ([]*storage.Insight, error) {
	s.lastText = text
	s.lastSource = source
	s.lastDomains = domains
	if s.err != nil {
		return nil, s.err
	}
	// Copy so the service's mutations never leak back into the script.
	out := make([]*storage.Insight, len(s.insights))
	for i, insight := range s.insights {
		c := *insight
		c.Domains = domains
		c.Source = source
		out[i] = &c
	}
	return out, nil
}

func newTestService(t *testing.T, normalizer *scriptedNormalizer) (*Service, *storage.Store) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewStore(db, nil)
	require.NoError(t, store.Initialize(context.Background()))

	svc := NewService(store, normalizer, embedding.NewMockEmbedder(16), nil, nil)
	return svc, store
}

func TestStoreInsight_EndToEnd(t *testing.T) {
	normalizer := &scriptedNormalizer{insights: []*storage.Insight{
		{
			Text:           "slow queries time out logins",
			NormalizedText: "Slow queries cause login timeouts because the index is missing.",
			Frame:          storage.FrameCausal,
			Entities:       []string{"login service"},
			Problems:       []string{"timeout"},
			Confidence:     1.0,
		},
		{
			Text:           "deploys need ci",
			NormalizedText: "Deploying to production requires a passing CI run.",
			Frame:          storage.FrameConstraint,
			Entities:       []string{"ci"},
			Confidence:     0.7,
		},
	}}
	svc, store := newTestService(t, normalizer)
	ctx := context.Background()

	result, err := svc.StoreInsight(ctx, StoreInsightRequest{
		Text:   "raw conversation notes",
		Domain: "auth, infra",
		Source: "conversation",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stored)
	require.Len(t, result.Insights, 2)
	assert.Equal(t, storage.FrameCausal, result.Insights[0].Frame)
	assert.NotEmpty(t, result.Insights[0].ID)

	// Domain string was comma-split before reaching the normalizer.
	assert.Equal(t, []string{"auth", "infra"}, normalizer.lastDomains)
	assert.Equal(t, "conversation", normalizer.lastSource)

	// Everything landed in storage with an embedding.
	stored, err := store.GetInsight(ctx, result.Insights[0].ID)
	require.NoError(t, err)
	assert.Len(t, stored.Embedding, 16)
	assert.Equal(t, []string{"auth", "infra"}, stored.Domains)

	// Low-confidence insights are kept here; the threshold only applies
	// to knowledge-base ingestion.
	low := result.Insights[1]
	assert.InDelta(t, 0.7, low.Confidence, 1e-9)
}

func TestStoreInsight_EmptyText(t *testing.T) {
	svc, _ := newTestService(t, &scriptedNormalizer{})

	_, err := svc.StoreInsight(context.Background(), StoreInsightRequest{Text: "   "})
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeInvalidField, svcErr.Code)
}

func TestStoreInsight_NothingExtracted(t *testing.T) {
	svc, _ := newTestService(t, &scriptedNormalizer{}) // empty script

	result, err := svc.StoreInsight(context.Background(), StoreInsightRequest{Text: "hello"})
	require.NoError(t, err)
	assert.Zero(t, result.Stored)
	assert.Equal(t, "No insights extracted from text.", result.Message)
}

func TestSearchInsights(t *testing.T) {
	normalizer := &scriptedNormalizer{insights: []*storage.Insight{
		{
			Text:           "x",
			NormalizedText: "Slow queries cause login timeouts.",
			Frame:          storage.FrameCausal,
			Confidence:     0.9,
		},
	}}
	svc, _ := newTestService(t, normalizer)
	ctx := context.Background()

	_, err := svc.StoreInsight(ctx, StoreInsightRequest{Text: "notes", Domain: "auth"})
	require.NoError(t, err)

	// The mock embedder is deterministic, so searching with the stored
	// normalized text is an exact vector match.
	results, err := svc.SearchInsights(ctx, "Slow queries cause login timeouts.", "", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	// Domain filter excludes non-matching insights.
	none, err := svc.SearchInsights(ctx, "anything", "billing", 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.SearchInsights(ctx, "  ", "", 5)
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeInvalidField, svcErr.Code)
}

func TestGetSubjectRelations_OptionalFilters(t *testing.T) {
	normalizer := &scriptedNormalizer{insights: []*storage.Insight{
		{
			Text:           "x",
			NormalizedText: "The api times out.",
			Frame:          storage.FrameCausal,
			Entities:       []string{"api"},
			Problems:       []string{"timeout"},
			Confidence:     0.9,
		},
	}}
	svc, _ := newTestService(t, normalizer)
	ctx := context.Background()

	_, err := svc.StoreInsight(ctx, StoreInsightRequest{Text: "notes"})
	require.NoError(t, err)

	// Kind and relation-type filters are both optional.
	relations, err := svc.GetSubjectRelations(ctx, "api", "", "", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, relations)

	relations, err = svc.GetSubjectRelations(ctx, "api", "entity", "has_problem", 10)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, storage.RelationHasProblem, relations[0].RelationType)
	assert.Equal(t, "timeout", relations[0].ToName)

	// Unknown filter values are still rejected.
	var svcErr *Error
	_, err = svc.GetSubjectRelations(ctx, "api", "gadget", "", 0)
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeInvalidField, svcErr.Code)

	_, err = svc.GetSubjectRelations(ctx, "api", "entity", "gibberish", 0)
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeInvalidField, svcErr.Code)
}

func TestServiceErrorCodes(t *testing.T) {
	svc, _ := newTestService(t, &scriptedNormalizer{})
	ctx := context.Background()

	var svcErr *Error

	_, err := svc.GetInsight(ctx, "missing")
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeNotFound, svcErr.Code)

	_, err = svc.UpdateInsight(ctx, "missing", map[string]interface{}{"embedding": 1})
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeInvalidField, svcErr.Code)

	err = svc.Forget(ctx, "missing")
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeNotFound, svcErr.Code)

	_, err = svc.ListInsights(ctx, "", "vibes", 10)
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeInvalidField, svcErr.Code)

	_, err = svc.SearchBySubject(ctx, "api", "gadget", 10)
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeInvalidField, svcErr.Code)

	err = svc.AddSubjectRelation(ctx, "ghost", "entity", "has_problem", "phantom", "problem")
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, CodeNotFound, svcErr.Code)
}
