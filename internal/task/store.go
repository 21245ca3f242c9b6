package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sematica-ai/memory-engine/internal/observability"
)

// timeLayout matches the storage package: fixed-width UTC microseconds so
// lexicographic order is chronological.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func nowUTC() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Store persists tasks, locks, dependencies, and events. It shares the
// SQLite handle with the storage package; migrations there create the
// tables and triggers this store relies on.
type Store struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewStore creates a task store over an open, migrated database handle.
func NewStore(db *sql.DB, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Store{db: db, logger: logger.WithComponent("task")}
}

// CreateTask inserts a new task in todo with version 0 and records a
// created event.
func (s *Store) CreateTask(ctx context.Context, title, owner, actor string) (*Task, error) {
	t := &Task{
		ID:     uuid.NewString(),
		Title:  title,
		Status: StateTodo,
		Owner:  owner,
	}
	now := nowUTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create task: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO tasks (task_id, title, status, owner, retry_count, version, created_at, updated_at) VALUES (?, ?, ?, ?, 0, 0, ?, ?)",
		t.ID, t.Title, string(t.Status), t.Owner, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	if err := appendEvent(ctx, tx, t.ID, "created", actor, map[string]interface{}{
		"title": title,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create task: %w", err)
	}

	t.CreatedAt = parseTime(now)
	t.UpdatedAt = t.CreatedAt
	s.logger.Info().Str("task_id", t.ID).Str("title", title).Msg("Created task")
	return t, nil
}

// GetTask loads one task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return getTask(ctx, s.db, taskID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getTask(ctx context.Context, q queryer, taskID string) (*Task, error) {
	var t Task
	var status, createdAt, updatedAt string
	err := q.QueryRowContext(ctx,
		"SELECT task_id, title, status, owner, retry_count, version, created_at, updated_at FROM tasks WHERE task_id = ?",
		taskID,
	).Scan(&t.ID, &t.Title, &status, &t.Owner, &t.RetryCount, &t.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	t.Status = State(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status State, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT task_id, title, status, owner, retry_count, version, created_at, updated_at FROM tasks"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var t Task
		var st, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Title, &st, &t.Owner, &t.RetryCount, &t.Version, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = State(st)
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// Transition performs one compare-and-set state change. The guarded
// UPDATE, the failure diagnosis, and the event append all happen in a
// single transaction, so either the full transition is visible or none of
// it is. A transition into blocked increments retry_count.
func (s *Store) Transition(ctx context.Context, req TransitionRequest) (*Task, error) {
	if !CanTransition(req.From, req.To) {
		return nil, fmt.Errorf("%s -> %s: %w", req.From, req.To, ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?,
		    retry_count = retry_count + CASE WHEN ? = 'blocked' THEN 1 ELSE 0 END,
		    version = version + 1,
		    updated_at = ?
		WHERE task_id = ? AND status = ? AND version = ?`,
		string(req.To), string(req.To), nowUTC(),
		req.TaskID, string(req.From), req.ExpectedVersion,
	)
	if err != nil {
		return nil, classifyTriggerError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	if affected == 0 {
		// Diagnose inside the same transaction: missing task, stale
		// version, or wrong source state, in that precedence.
		current, err := getTask(ctx, tx, req.TaskID)
		if err != nil {
			return nil, err
		}
		if current.Version != req.ExpectedVersion {
			return nil, fmt.Errorf("task %s at version %d, expected %d: %w",
				req.TaskID, current.Version, req.ExpectedVersion, ErrConcurrencyConflict)
		}
		return nil, fmt.Errorf("task %s is %s, not %s: %w",
			req.TaskID, current.Status, req.From, ErrInvalidTransition)
	}

	payload := map[string]interface{}{
		"from_state": string(req.From),
		"to_state":   string(req.To),
	}
	if req.Reason != "" {
		payload["reason"] = req.Reason
	}
	if err := appendEvent(ctx, tx, req.TaskID, "state_transition", req.Actor, payload); err != nil {
		return nil, err
	}

	updated, err := getTask(ctx, tx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	s.logger.Info().
		Str("task_id", req.TaskID).
		Str("from", string(req.From)).
		Str("to", string(req.To)).
		Int("version", updated.Version).
		Msg("Task transitioned")
	return updated, nil
}

// AddDependencies records depends-on edges for a task. Both endpoints
// must exist, and a task can never depend on itself.
func (s *Store) AddDependencies(ctx context.Context, taskID string, dependsOn []string) error {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return err
	}
	for _, dep := range dependsOn {
		if dep == taskID {
			return fmt.Errorf("task %s cannot depend on itself: %w", taskID, ErrInvalidTransition)
		}
		if _, err := s.GetTask(ctx, dep); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_task_id) VALUES (?, ?)",
			taskID, dep,
		); err != nil {
			return fmt.Errorf("add dependency: %w", err)
		}
	}
	return nil
}

// ListDependencies returns the task ids the given task depends on.
func (s *Store) ListDependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT depends_on_task_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_task_id",
		taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// AssignLocks claims the given resources for a task. Resources are
// normalized first; blank entries are skipped. The whole batch is
// transactional: one conflicting resource rolls everything back with
// ErrLockConflict naming it.
func (s *Store) AssignLocks(ctx context.Context, taskID string, resources []string, actor string) ([]Lock, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin assign locks: %w", err)
	}
	defer tx.Rollback()

	now := nowUTC()
	var locks []Lock
	for _, raw := range resources {
		resource := NormalizeResource(raw)
		if resource == "" {
			continue
		}
		lock := Lock{
			ID:        uuid.NewString(),
			TaskID:    taskID,
			Resource:  resource,
			Active:    true,
			CreatedAt: parseTime(now),
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO task_locks (id, task_id, resource, active, created_at) VALUES (?, ?, ?, 1, ?)",
			lock.ID, taskID, resource, now,
		); err != nil {
			if isLockConflict(err) {
				return nil, fmt.Errorf("resource %q: %w", resource, ErrLockConflict)
			}
			return nil, fmt.Errorf("assign lock %q: %w", resource, err)
		}
		locks = append(locks, lock)
	}

	if len(locks) > 0 {
		if err := appendEvent(ctx, tx, taskID, "locks_assigned", actor, map[string]interface{}{
			"resources": lockResources(locks),
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assign locks: %w", err)
	}
	return locks, nil
}

// ReleaseLocks deactivates locks held by a task. With no resources given,
// every active lock of the task is released; otherwise only the named
// ones (normalized) are. Returns how many locks were released.
func (s *Store) ReleaseLocks(ctx context.Context, taskID string, resources []string, actor string) (int, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin release locks: %w", err)
	}
	defer tx.Rollback()

	query := "UPDATE task_locks SET active = 0 WHERE task_id = ? AND active = 1"
	args := []interface{}{taskID}
	var named []string
	for _, raw := range resources {
		if r := NormalizeResource(raw); r != "" {
			named = append(named, r)
		}
	}
	if len(named) > 0 {
		query += " AND resource IN (?" + strings.Repeat(", ?", len(named)-1) + ")"
		for _, r := range named {
			args = append(args, r)
		}
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("release locks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release locks: %w", err)
	}

	if affected > 0 {
		payload := map[string]interface{}{"count": affected}
		if len(named) > 0 {
			payload["resources"] = named
		}
		if err := appendEvent(ctx, tx, taskID, "locks_released", actor, payload); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit release locks: %w", err)
	}
	return int(affected), nil
}

// ListLocks returns a task's locks, active first then newest first.
func (s *Store) ListLocks(ctx context.Context, taskID string, activeOnly bool) ([]Lock, error) {
	query := "SELECT id, task_id, resource, active, created_at FROM task_locks WHERE task_id = ?"
	if activeOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY active DESC, created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var locks []Lock
	for rows.Next() {
		var l Lock
		var active int
		var createdAt string
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Resource, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		l.Active = active == 1
		l.CreatedAt = parseTime(createdAt)
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// ListAllActiveLocks returns every active lock in the store, the input
// the overlap validator consumes.
func (s *Store) ListAllActiveLocks(ctx context.Context) ([]Lock, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, task_id, resource, active, created_at FROM task_locks WHERE active = 1 ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list active locks: %w", err)
	}
	defer rows.Close()

	var locks []Lock
	for rows.Next() {
		var l Lock
		var active int
		var createdAt string
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Resource, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		l.Active = active == 1
		l.CreatedAt = parseTime(createdAt)
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// AppendEvent records one custom event for a task.
func (s *Store) AppendEvent(ctx context.Context, taskID, eventType, actor string, payload map[string]interface{}) error {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return err
	}
	return appendEvent(ctx, s.db, taskID, eventType, actor, payload)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func appendEvent(ctx context.Context, q execer, taskID, eventType, actor string, payload map[string]interface{}) error {
	body := "{}"
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		body = string(b)
	}
	if _, err := q.ExecContext(ctx,
		"INSERT INTO task_events (id, task_id, event_type, actor, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		uuid.NewString(), taskID, eventType, actor, body, nowUTC(),
	); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns a task's events newest first.
func (s *Store) ListEvents(ctx context.Context, taskID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, task_id, event_type, actor, payload, created_at FROM task_events WHERE task_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload, createdAt string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Type, &e.Actor, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload != "" && payload != "{}" {
			_ = json.Unmarshal([]byte(payload), &e.Payload)
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// classifyTriggerError maps RAISE(ABORT, ...) messages from the schema
// triggers back to typed errors.
func classifyTriggerError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "task dependencies not complete"):
		return fmt.Errorf("%w", ErrDependencyNotMet)
	case strings.Contains(msg, "invalid task state transition"):
		return fmt.Errorf("%w", ErrInvalidTransition)
	case strings.Contains(msg, "lock conflict"):
		return fmt.Errorf("%w", ErrLockConflict)
	}
	return fmt.Errorf("transition: %w", err)
}

func isLockConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "lock conflict") ||
		strings.Contains(msg, "UNIQUE constraint failed: task_locks")
}

func lockResources(locks []Lock) []string {
	out := make([]string, len(locks))
	for i, l := range locks {
		out[i] = l.Resource
	}
	return out
}
