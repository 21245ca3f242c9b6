// Package memory exposes the engine's operations behind one service
// facade: insight storage and retrieval, the subject graph, knowledge
// bases, and a uniform error taxonomy for the API and CLI layers.
package memory

import (
	"errors"
	"fmt"

	"github.com/sematica-ai/memory-engine/internal/storage"
	"github.com/sematica-ai/memory-engine/internal/task"
)

// Error codes form a closed set; transports map them onto status codes.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidField        = "INVALID_FIELD"
	CodeStorageError        = "STORAGE_ERROR"
	CodeLockConflict        = "LOCK_CONFLICT"
	CodeDependencyNotMet    = "DEPENDENCY_NOT_MET"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeTaskNotFound        = "TASK_NOT_FOUND"
)

// Error is the service-level failure shape: a machine code, a human
// reason, and optional structured details.
type Error struct {
	Code    string                 `json:"code"`
	Reason  string                 `json:"reason"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// NewError builds a service error.
func NewError(code, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// WithDetail attaches one detail entry and returns the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WrapError translates storage and task failures into service errors.
// An error that is already a *Error passes through unchanged; anything
// unrecognized becomes STORAGE_ERROR.
func WrapError(err error) *Error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return NewError(CodeNotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidField):
		return NewError(CodeInvalidField, err.Error())
	case errors.Is(err, storage.ErrDuplicateName):
		return NewError(CodeInvalidField, err.Error())
	case errors.Is(err, task.ErrTaskNotFound):
		return NewError(CodeTaskNotFound, err.Error())
	case errors.Is(err, task.ErrInvalidTransition):
		return NewError(CodeInvalidTransition, err.Error())
	case errors.Is(err, task.ErrDependencyNotMet):
		return NewError(CodeDependencyNotMet, err.Error())
	case errors.Is(err, task.ErrLockConflict):
		return NewError(CodeLockConflict, err.Error())
	case errors.Is(err, task.ErrConcurrencyConflict):
		return NewError(CodeConcurrencyConflict, err.Error())
	}
	return NewError(CodeStorageError, err.Error())
}
