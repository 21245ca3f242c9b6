// Package task implements the coordination state machine: tasks with
// compare-and-set transitions, path-scoped resource locks, dependencies,
// and an append-only event log. Invariants are enforced twice, once by
// SQLite triggers and once by the typed errors this package maps them to.
package task

import (
	"errors"
	"fmt"
	"time"
)

// State is a task lifecycle state.
type State string

const (
	StateTodo       State = "todo"
	StateInProgress State = "in_progress"
	StateBlocked    State = "blocked"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCanceled   State = "canceled"
)

// ParseState validates a state value.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateTodo, StateInProgress, StateBlocked, StateDone, StateFailed, StateCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown task state %q", s)
}

// validTransitions mirrors the trigger-enforced state machine. done and
// canceled are terminal.
var validTransitions = map[State][]State{
	StateTodo:       {StateInProgress, StateCanceled},
	StateInProgress: {StateDone, StateFailed, StateBlocked, StateCanceled},
	StateBlocked:    {StateTodo, StateCanceled},
	StateFailed:     {StateTodo, StateCanceled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Typed failures of the state machine. Callers translate these into API
// error codes; everything else is a storage error.
var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrInvalidTransition   = errors.New("invalid task state transition")
	ErrDependencyNotMet    = errors.New("task dependencies not complete")
	ErrLockConflict        = errors.New("lock conflict")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Task is one unit of coordinated work.
type Task struct {
	ID         string    `json:"task_id"`
	Title      string    `json:"title"`
	Status     State     `json:"status"`
	Owner      string    `json:"owner,omitempty"`
	RetryCount int       `json:"retry_count"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Lock is one resource claim held by a task. Released locks stay in the
// table with active=false for audit.
type Lock struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Resource  string    `json:"resource"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one append-only log entry for a task.
type Event struct {
	ID        string                 `json:"id"`
	TaskID    string                 `json:"task_id"`
	Type      string                 `json:"event_type"`
	Actor     string                 `json:"actor"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// TransitionRequest describes one compare-and-set state change.
type TransitionRequest struct {
	TaskID string
	From   State
	To     State
	// ExpectedVersion guards against concurrent writers; the transition
	// fails with ErrConcurrencyConflict when the stored version differs.
	ExpectedVersion int
	Actor           string
	Reason          string
}
