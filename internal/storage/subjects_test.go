package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertInsight_DeduplicatesSubjects(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestInsight(t, store, &Insight{
		Text: "a", NormalizedText: "a", Frame: FrameCausal,
		Entities: []string{"Login Service"},
	})
	insertTestInsight(t, store, &Insight{
		Text: "b", NormalizedText: "b", Frame: FrameCausal,
		Entities: []string{"  login service "},
	})

	subjects, err := store.ListSubjects(ctx, SubjectKindEntity, 10)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "login service", subjects[0].Name)

	insights, err := store.SearchBySubject(ctx, "LOGIN SERVICE", SubjectKindEntity, 10)
	require.NoError(t, err)
	assert.Len(t, insights, 2)
}

func TestInsertInsight_DerivesAutoRelations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestInsight(t, store, &Insight{
		Text: "a", NormalizedText: "a", Frame: FrameCausal,
		Domains:     []string{"auth"},
		Entities:    []string{"login service"},
		Problems:    []string{"timeout"},
		Resolutions: []string{"add index"},
		Contexts:    []string{"high load"},
	})

	relations, err := store.GetSubjectRelations(ctx, "high load", SubjectKindContext, "", 0)
	require.NoError(t, err)

	type edge struct {
		rel RelationType
		to  string
	}
	outgoing := map[edge]bool{}
	for _, r := range relations {
		if r.FromName == "high load" {
			outgoing[edge{r.RelationType, r.ToName}] = true
		}
	}
	assert.True(t, outgoing[edge{RelationFrames, "timeout"}])
	assert.True(t, outgoing[edge{RelationAppliesTo, "auth"}])
	assert.True(t, outgoing[edge{RelationInvolves, "login service"}])

	problemRels, err := store.GetSubjectRelations(ctx, "timeout", SubjectKindProblem, "", 0)
	require.NoError(t, err)
	var solvedBy bool
	for _, r := range problemRels {
		if r.FromName == "timeout" && r.RelationType == RelationSolvedBy && r.ToName == "add index" {
			solvedBy = true
		}
	}
	assert.True(t, solvedBy)
}

func TestInsertInsight_AutoRelationsAreCartesian(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestInsight(t, store, &Insight{
		Text: "a", NormalizedText: "a", Frame: FrameCausal,
		Entities: []string{"api", "worker"},
		Problems: []string{"timeout", "oom"},
	})

	var count int
	err := store.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM subject_relations WHERE relation_type = ?",
		string(RelationHasProblem)).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 4, count, "every entity links to every problem")
}

func TestInsertInsight_GitContextChain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestInsight(t, store, &Insight{
		Text: "a", NormalizedText: "a", Frame: FrameCausal,
		Resolutions: []string{"add index"},
	})

	// Second insert carries git provenance.
	_, err := store.InsertInsight(ctx, &Insight{
		Text: "b", NormalizedText: "b", Frame: FrameCausal,
		Resolutions: []string{"retry with backoff"},
	}, GitContext{
		Repo:    "acme/payments",
		PR:      "PR-42",
		Author:  "dana",
		Project: "checkout",
		Task:    "TASK-7",
	})
	require.NoError(t, err)

	relations, err := store.GetSubjectRelations(ctx, "pr-42", SubjectKindPR, "", 0)
	require.NoError(t, err)

	type edge struct {
		from string
		rel  RelationType
		to   string
	}
	edges := map[edge]bool{}
	for _, r := range relations {
		edges[edge{r.FromName, r.RelationType, r.ToName}] = true
	}
	assert.True(t, edges[edge{"task-7", RelationProduces, "pr-42"}])
	assert.True(t, edges[edge{"dana", RelationAuthors, "pr-42"}])
	assert.True(t, edges[edge{"retry with backoff", RelationImplementedIn, "pr-42"}])
	assert.False(t, edges[edge{"add index", RelationImplementedIn, "pr-42"}],
		"resolutions from other insights must not link to this PR")

	repoRels, err := store.GetSubjectRelations(ctx, "acme/payments", SubjectKindRepo, "", 0)
	require.NoError(t, err)
	var contains bool
	for _, r := range repoRels {
		if r.RelationType == RelationContains && r.ToName == "checkout" {
			contains = true
		}
	}
	assert.True(t, contains)
}

func TestAddSubjectRelation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestInsight(t, store, &Insight{
		Text: "a", NormalizedText: "a", Frame: FrameCausal,
		Domains:  []string{"platform"},
		Entities: []string{"api"},
	})

	ok, err := store.AddSubjectRelation(ctx, "platform", SubjectKindDomain, RelationScopes, "api", SubjectKindEntity)
	require.NoError(t, err)
	assert.True(t, ok)

	// Either endpoint missing: no edge, no error.
	ok, err = store.AddSubjectRelation(ctx, "platform", SubjectKindDomain, RelationScopes, "ghost", SubjectKindEntity)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.AddSubjectRelation(ctx, "ghost", SubjectKindDomain, RelationScopes, "api", SubjectKindEntity)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetSubjectRelations_OutgoingBeforeIncoming(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestInsight(t, store, &Insight{
		Text: "a", NormalizedText: "a", Frame: FrameCausal,
		Domains:  []string{"auth"},
		Entities: []string{"api"},
		Contexts: []string{"prod"},
	})

	// api has incoming edges (domain scopes, context involves) and we add
	// an outgoing one.
	ok, err := store.AddSubjectRelation(ctx, "api", SubjectKindEntity, RelationAppliesTo, "auth", SubjectKindDomain)
	require.NoError(t, err)
	require.True(t, ok)

	relations, err := store.GetSubjectRelations(ctx, "api", SubjectKindEntity, "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, relations)

	assert.Equal(t, "api", relations[0].FromName, "outgoing edges come first")

	seenIncoming := false
	for _, r := range relations {
		if r.ToName == "api" {
			seenIncoming = true
		} else if r.FromName == "api" {
			assert.False(t, seenIncoming, "no outgoing edge after an incoming one")
		}
	}
	assert.True(t, seenIncoming)
}

func TestGetSubjectRelations_UnknownSubject(t *testing.T) {
	store := newTestStore(t)

	relations, err := store.GetSubjectRelations(context.Background(), "nobody", SubjectKindEntity, "", 0)
	require.NoError(t, err)
	assert.Empty(t, relations)
}

func TestGetSubjectRelations_FiltersAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestInsight(t, store, &Insight{
		Text: "a", NormalizedText: "a", Frame: FrameCausal,
		Domains:  []string{"payments"},
		Entities: []string{"api"},
		Problems: []string{"timeout", "oom"},
	})

	// An empty kind matches the name under any kind.
	relations, err := store.GetSubjectRelations(ctx, "payments", "", "", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, relations)

	// The relation-type filter keeps only matching edges.
	relations, err = store.GetSubjectRelations(ctx, "api", SubjectKindEntity, RelationHasProblem, 0)
	require.NoError(t, err)
	require.Len(t, relations, 2)
	for _, r := range relations {
		assert.Equal(t, RelationHasProblem, r.RelationType)
	}

	// Limit caps the edge count.
	relations, err = store.GetSubjectRelations(ctx, "api", SubjectKindEntity, "", 1)
	require.NoError(t, err)
	assert.Len(t, relations, 1)
}
