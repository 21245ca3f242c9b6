package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a fresh database in a temp directory and applies all
// migrations.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(db, nil)
	require.NoError(t, store.Initialize(context.Background()))
	return store
}

func TestInitialize_AppliesAllMigrations(t *testing.T) {
	store := newTestStore(t)

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, version)
}

func TestInitialize_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.Initialize(ctx))

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, version)
}

func TestInitialize_BackfillsLegacySubjects(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(db, nil)

	// Simulate a pre-migration database: base schema only, with one
	// tagged insight already present.
	_, err = db.ExecContext(ctx, bootstrapSchema)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO insights (id, text, normalized_text, frame, domains, entities, created_at, updated_at)
		VALUES ('legacy-1', 'raw', 'normalized', 'causal', '["auth"]', '["Login Service"]', ?, ?)`,
		nowUTC(), nowUTC())
	require.NoError(t, err)

	require.NoError(t, store.Initialize(ctx))

	subjects, err := store.ListSubjects(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, subjects, 2)

	// Names are normalized to lowercase during backfill.
	names := map[string]SubjectKind{}
	for _, s := range subjects {
		names[s.Name] = s.Kind
	}
	assert.Equal(t, SubjectKindDomain, names["auth"])
	assert.Equal(t, SubjectKindEntity, names["login service"])

	insights, err := store.SearchBySubject(ctx, "Login Service", SubjectKindEntity, 10)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "legacy-1", insights[0].ID)
}

func TestSubjectID_Deterministic(t *testing.T) {
	a := SubjectID(SubjectKindEntity, "Login Service")
	b := SubjectID(SubjectKindEntity, "  login service ")
	c := SubjectID(SubjectKindProblem, "login service")

	assert.Equal(t, a, b, "normalization should collapse case and whitespace")
	assert.NotEqual(t, a, c, "different kinds must produce different ids")
}
