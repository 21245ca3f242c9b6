package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sematica-ai/memory-engine/internal/storage"
)

func newTestTaskStore(t *testing.T) *Store {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, storage.NewStore(db, nil).Initialize(context.Background()))
	return NewStore(db, nil)
}

func createTestTask(t *testing.T, store *Store, title string) *Task {
	t.Helper()
	task, err := store.CreateTask(context.Background(), title, "owner", "tester")
	require.NoError(t, err)
	return task
}

// move drives a task through one transition at its current version.
func move(t *testing.T, store *Store, task *Task, to State) *Task {
	t.Helper()
	updated, err := store.Transition(context.Background(), TransitionRequest{
		TaskID:          task.ID,
		From:            task.Status,
		To:              to,
		ExpectedVersion: task.Version,
		Actor:           "tester",
	})
	require.NoError(t, err)
	return updated
}

func TestCreateTask(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "ship feature")
	assert.Equal(t, StateTodo, task.Status)
	assert.Equal(t, 0, task.Version)
	assert.Equal(t, "owner", task.Owner)

	events, err := store.ListEvents(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "created", events[0].Type)
	assert.Equal(t, "tester", events[0].Actor)
	assert.Equal(t, "ship feature", events[0].Payload["title"])
}

func TestGetTask_NotFound(t *testing.T) {
	store := newTestTaskStore(t)

	_, err := store.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTransition_BumpsVersionAndRecordsEvent(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "work")
	updated, err := store.Transition(ctx, TransitionRequest{
		TaskID:          task.ID,
		From:            StateTodo,
		To:              StateInProgress,
		ExpectedVersion: 0,
		Actor:           "tester",
		Reason:          "picked up",
	})
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, updated.Status)
	assert.Equal(t, 1, updated.Version)

	events, err := store.ListEvents(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "state_transition", events[0].Type)
	assert.Equal(t, "todo", events[0].Payload["from_state"])
	assert.Equal(t, "in_progress", events[0].Payload["to_state"])
	assert.Equal(t, "picked up", events[0].Payload["reason"])
}

func TestTransition_StaleVersion(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "work")
	move(t, store, task, StateInProgress) // version is now 1

	_, err := store.Transition(ctx, TransitionRequest{
		TaskID:          task.ID,
		From:            StateInProgress,
		To:              StateDone,
		ExpectedVersion: 0,
		Actor:           "tester",
	})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	// The failed attempt changed nothing.
	current, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, current.Status)
	assert.Equal(t, 1, current.Version)
}

func TestTransition_ConcurrentClaim(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "contested")

	// Two workers race to claim the same task at version 0. The CAS
	// guard lets exactly one through.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := store.Transition(ctx, TransitionRequest{
				TaskID:          task.ID,
				From:            StateTodo,
				To:              StateInProgress,
				ExpectedVersion: 0,
				Actor:           "worker",
			})
			errs <- err
		}()
	}

	var wins, conflicts int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConcurrencyConflict):
			conflicts++
		default:
			t.Fatalf("unexpected transition error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	current, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, current.Status)
	assert.Equal(t, 1, current.Version)
}

func TestTransition_IllegalEdge(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "work")

	// todo -> done is not in the state machine.
	_, err := store.Transition(ctx, TransitionRequest{
		TaskID:          task.ID,
		From:            StateTodo,
		To:              StateDone,
		ExpectedVersion: 0,
		Actor:           "tester",
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_WrongSourceState(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "work")

	// Task is todo, caller believes it is in_progress.
	_, err := store.Transition(ctx, TransitionRequest{
		TaskID:          task.ID,
		From:            StateInProgress,
		To:              StateDone,
		ExpectedVersion: 0,
		Actor:           "tester",
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_TaskNotFound(t *testing.T) {
	store := newTestTaskStore(t)

	_, err := store.Transition(context.Background(), TransitionRequest{
		TaskID:          "missing",
		From:            StateTodo,
		To:              StateInProgress,
		ExpectedVersion: 0,
		Actor:           "tester",
	})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTransition_DependencyGate(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	blockedTask := createTestTask(t, store, "dependent")
	dep := createTestTask(t, store, "prerequisite")
	require.NoError(t, store.AddDependencies(ctx, blockedTask.ID, []string{dep.ID}))

	// Cannot start while the dependency is unfinished.
	_, err := store.Transition(ctx, TransitionRequest{
		TaskID:          blockedTask.ID,
		From:            StateTodo,
		To:              StateInProgress,
		ExpectedVersion: 0,
		Actor:           "tester",
	})
	assert.ErrorIs(t, err, ErrDependencyNotMet)

	// Finish the dependency; the gate opens.
	dep = move(t, store, dep, StateInProgress)
	move(t, store, dep, StateDone)

	started := move(t, store, blockedTask, StateInProgress)
	assert.Equal(t, StateInProgress, started.Status)
}

func TestTransition_BlockedIncrementsRetryCount(t *testing.T) {
	store := newTestTaskStore(t)

	task := createTestTask(t, store, "flaky")
	task = move(t, store, task, StateInProgress)
	task = move(t, store, task, StateBlocked)
	assert.Equal(t, 1, task.RetryCount)

	task = move(t, store, task, StateTodo)
	task = move(t, store, task, StateInProgress)
	task = move(t, store, task, StateBlocked)
	assert.Equal(t, 2, task.RetryCount)
	assert.Equal(t, 6, task.Version)
}

func TestAddDependencies_Validation(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "a")

	err := store.AddDependencies(ctx, task.ID, []string{task.ID})
	assert.Error(t, err, "self-dependency is rejected")

	err = store.AddDependencies(ctx, task.ID, []string{"missing"})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	other := createTestTask(t, store, "b")
	require.NoError(t, store.AddDependencies(ctx, task.ID, []string{other.ID}))
	// Re-adding the same edge is a no-op.
	require.NoError(t, store.AddDependencies(ctx, task.ID, []string{other.ID}))

	deps, err := store.ListDependencies(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, deps)
}

func TestAssignLocks(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "work")
	locks, err := store.AssignLocks(ctx, task.ID, []string{"src/api", "docs/"}, "tester")
	require.NoError(t, err)
	require.Len(t, locks, 2)
	assert.Equal(t, "src/api", locks[0].Resource)
	assert.Equal(t, "docs", locks[1].Resource, "trailing slash is normalized away")

	held, err := store.ListLocks(ctx, task.ID, true)
	require.NoError(t, err)
	assert.Len(t, held, 2)
}

func TestAssignLocks_ConflictRollsBackBatch(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	holder := createTestTask(t, store, "holder")
	_, err := store.AssignLocks(ctx, holder.ID, []string{"src/api"}, "tester")
	require.NoError(t, err)

	rival := createTestTask(t, store, "rival")
	tests := []struct {
		name     string
		resource string
	}{
		{"exact match", "src/api"},
		{"parent of held path", "src"},
		{"child of held path", "src/api/handlers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.AssignLocks(ctx, rival.ID, []string{"other", tt.resource}, "tester")
			assert.ErrorIs(t, err, ErrLockConflict)

			// The whole batch rolled back, including the clean resource.
			held, err := store.ListLocks(ctx, rival.ID, true)
			require.NoError(t, err)
			assert.Empty(t, held)
		})
	}

	// Sibling paths do not overlap.
	_, err = store.AssignLocks(ctx, rival.ID, []string{"src/worker"}, "tester")
	require.NoError(t, err)
}

func TestAssignLocks_SameTaskNestedPaths(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "work")
	_, err := store.AssignLocks(ctx, task.ID, []string{"src"}, "tester")
	require.NoError(t, err)

	// A task may hold nested paths; overlap only matters across tasks.
	_, err = store.AssignLocks(ctx, task.ID, []string{"src/api"}, "tester")
	require.NoError(t, err)
}

func TestReleaseLocks(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "work")
	_, err := store.AssignLocks(ctx, task.ID, []string{"src/api", "docs", "scripts"}, "tester")
	require.NoError(t, err)

	// Named release touches only the given resources.
	released, err := store.ReleaseLocks(ctx, task.ID, []string{"docs/"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	// Release-all clears the rest.
	released, err = store.ReleaseLocks(ctx, task.ID, nil, "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	active, err := store.ListLocks(ctx, task.ID, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := store.ListLocks(ctx, task.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// A released resource becomes claimable by another task.
	other := createTestTask(t, store, "other")
	_, err = store.AssignLocks(ctx, other.ID, []string{"src/api"}, "tester")
	require.NoError(t, err)
}

func TestListAllActiveLocks(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	a := createTestTask(t, store, "a")
	b := createTestTask(t, store, "b")
	_, err := store.AssignLocks(ctx, a.ID, []string{"src/api"}, "tester")
	require.NoError(t, err)
	_, err = store.AssignLocks(ctx, b.ID, []string{"docs"}, "tester")
	require.NoError(t, err)
	_, err = store.ReleaseLocks(ctx, b.ID, nil, "tester")
	require.NoError(t, err)

	active, err := store.ListAllActiveLocks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].TaskID)
}

func TestAppendEvent_AndOrdering(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "work")
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.AppendEvent(ctx, task.ID, "note", "tester", map[string]interface{}{
		"text": "first note",
	}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.AppendEvent(ctx, task.ID, "note", "tester", nil))

	events, err := store.ListEvents(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "note", events[0].Type)
	assert.Nil(t, events[0].Payload)
	assert.Equal(t, "first note", events[1].Payload["text"])
	assert.Equal(t, "created", events[2].Type)

	assert.ErrorIs(t, store.AppendEvent(ctx, "missing", "note", "tester", nil), ErrTaskNotFound)
}

func TestTaskEvents_AppendOnly(t *testing.T) {
	store := newTestTaskStore(t)
	ctx := context.Background()

	task := createTestTask(t, store, "work")

	_, err := store.db.ExecContext(ctx, "UPDATE task_events SET actor = 'tamper' WHERE task_id = ?", task.ID)
	assert.ErrorContains(t, err, "append-only")

	_, err = store.db.ExecContext(ctx, "DELETE FROM task_events WHERE task_id = ?", task.ID)
	assert.ErrorContains(t, err, "append-only")
}
