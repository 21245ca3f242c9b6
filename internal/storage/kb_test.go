package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateKnowledgeBase_UniqueName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kb, err := store.CreateKnowledgeBase(ctx, "go-docs", "Go documentation", "crawl")
	require.NoError(t, err)
	assert.NotEmpty(t, kb.ID)
	assert.Equal(t, "go-docs", kb.Name)
	assert.False(t, kb.CreatedAt.IsZero())

	_, err = store.CreateKnowledgeBase(ctx, "go-docs", "again", "crawl")
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestGetKnowledgeBaseByName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateKnowledgeBase(ctx, "go-docs", "", "crawl")
	require.NoError(t, err)

	got, err := store.GetKnowledgeBaseByName(ctx, "go-docs")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = store.GetKnowledgeBaseByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func insertTestChunk(t *testing.T, store *Store, kbID string, chunk *KBChunk) string {
	t.Helper()
	chunk.KBID = kbID
	id, err := store.InsertKBChunk(context.Background(), chunk)
	require.NoError(t, err)
	return id
}

func TestInsertKBChunk_LinksSubjectsWithoutRelations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kb, err := store.CreateKnowledgeBase(ctx, "go-docs", "", "crawl")
	require.NoError(t, err)

	insertTestChunk(t, store, kb.ID, &KBChunk{
		Text:           "raw",
		NormalizedText: "Goroutines are cheap to spawn.",
		Frame:          FramePattern,
		Entities:       []string{"goroutine"},
		Problems:       []string{"thread overhead"},
		Confidence:     0.8,
		SourceURL:      "https://go.dev/doc",
	})

	// Subject nodes exist and are searchable through the chunk join.
	subjects, err := store.ListSubjects(ctx, SubjectKindEntity, 10)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "goroutine", subjects[0].Name)

	// Chunk inserts never derive subject relations; that stays an
	// insight-only behavior.
	var relations int
	err = store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM subject_relations").Scan(&relations)
	require.NoError(t, err)
	assert.Zero(t, relations)
}

func TestInsertKBChunk_TouchesKnowledgeBase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kb, err := store.CreateKnowledgeBase(ctx, "go-docs", "", "crawl")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	insertTestChunk(t, store, kb.ID, &KBChunk{
		Text: "x", NormalizedText: "x", Frame: FramePattern,
	})

	got, err := store.GetKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(kb.UpdatedAt))
}

func TestSearchKBByEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kbA, err := store.CreateKnowledgeBase(ctx, "kb-a", "", "crawl")
	require.NoError(t, err)
	kbB, err := store.CreateKnowledgeBase(ctx, "kb-b", "", "crawl")
	require.NoError(t, err)

	insertTestChunk(t, store, kbA.ID, &KBChunk{
		Text: "a", NormalizedText: "near", Frame: FramePattern,
		Embedding: []float32{1, 0.1},
	})
	insertTestChunk(t, store, kbA.ID, &KBChunk{
		Text: "b", NormalizedText: "far", Frame: FramePattern,
		Embedding: []float32{0, 1},
	})
	insertTestChunk(t, store, kbB.ID, &KBChunk{
		Text: "c", NormalizedText: "other kb", Frame: FramePattern,
		Embedding: []float32{1, 0},
	})

	scoped, err := store.SearchKBByEmbedding(ctx, []float32{1, 0}, kbA.ID, 10)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, "near", scoped[0].Chunk.NormalizedText)
	assert.Equal(t, "far", scoped[1].Chunk.NormalizedText)

	// Empty kb id searches everything.
	all, err := store.SearchKBByEmbedding(ctx, []float32{1, 0}, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "other kb", all[0].Chunk.NormalizedText)
}

func TestListKnowledgeBases_ChunkCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kbA, err := store.CreateKnowledgeBase(ctx, "kb-a", "", "crawl")
	require.NoError(t, err)
	_, err = store.CreateKnowledgeBase(ctx, "kb-b", "", "directory")
	require.NoError(t, err)

	insertTestChunk(t, store, kbA.ID, &KBChunk{Text: "1", NormalizedText: "1", Frame: FramePattern})
	insertTestChunk(t, store, kbA.ID, &KBChunk{Text: "2", NormalizedText: "2", Frame: FramePattern})

	list, err := store.ListKnowledgeBases(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	counts := map[string]int{}
	for _, info := range list {
		counts[info.Name] = info.ChunkCount
	}
	assert.Equal(t, 2, counts["kb-a"])
	assert.Equal(t, 0, counts["kb-b"])
}

func TestDeleteKnowledgeBase_CascadesChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kb, err := store.CreateKnowledgeBase(ctx, "go-docs", "", "crawl")
	require.NoError(t, err)
	chunkID := insertTestChunk(t, store, kb.ID, &KBChunk{
		Text: "x", NormalizedText: "x", Frame: FramePattern,
		Entities: []string{"goroutine"},
	})

	require.NoError(t, store.DeleteKnowledgeBase(ctx, kb.ID))
	assert.ErrorIs(t, store.DeleteKnowledgeBase(ctx, kb.ID), ErrNotFound)

	var chunks, joins int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM kb_chunks WHERE kb_id = ?", kb.ID).Scan(&chunks))
	require.NoError(t, store.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM kb_chunk_subjects WHERE kb_chunk_id = ?", chunkID).Scan(&joins))
	assert.Zero(t, chunks)
	assert.Zero(t, joins)
}

func TestDeleteKnowledgeBaseChunks_KeepsBase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kb, err := store.CreateKnowledgeBase(ctx, "go-docs", "", "crawl")
	require.NoError(t, err)
	insertTestChunk(t, store, kb.ID, &KBChunk{Text: "1", NormalizedText: "1", Frame: FramePattern})
	insertTestChunk(t, store, kb.ID, &KBChunk{Text: "2", NormalizedText: "2", Frame: FramePattern})

	deleted, err := store.DeleteKnowledgeBaseChunks(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	got, err := store.GetKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, "go-docs", got.Name)

	chunks, err := store.ListKBChunks(ctx, kb.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
