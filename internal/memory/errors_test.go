package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sematica-ai/memory-engine/internal/storage"
	"github.com/sematica-ai/memory-engine/internal/task"
)

func TestWrapError_Mapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not found", fmt.Errorf("insight x: %w", storage.ErrNotFound), CodeNotFound},
		{"invalid field", fmt.Errorf("field y: %w", storage.ErrInvalidField), CodeInvalidField},
		{"duplicate name", fmt.Errorf("kb z: %w", storage.ErrDuplicateName), CodeInvalidField},
		{"task not found", fmt.Errorf("task t: %w", task.ErrTaskNotFound), CodeTaskNotFound},
		{"invalid transition", fmt.Errorf("todo -> done: %w", task.ErrInvalidTransition), CodeInvalidTransition},
		{"dependency not met", task.ErrDependencyNotMet, CodeDependencyNotMet},
		{"lock conflict", fmt.Errorf("resource r: %w", task.ErrLockConflict), CodeLockConflict},
		{"concurrency conflict", task.ErrConcurrencyConflict, CodeConcurrencyConflict},
		{"unknown", fmt.Errorf("disk full"), CodeStorageError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError(tt.err)
			require.NotNil(t, wrapped)
			assert.Equal(t, tt.code, wrapped.Code)
		})
	}
}

func TestWrapError_PassThrough(t *testing.T) {
	assert.Nil(t, WrapError(nil))

	original := NewError(CodeLockConflict, "resource busy").WithDetail("resource", "src/api")
	wrapped := WrapError(fmt.Errorf("outer: %w", original))
	assert.Same(t, original, wrapped, "service errors survive wrapping unchanged")
}

func TestError_Format(t *testing.T) {
	err := NewError(CodeNotFound, "insight missing")
	assert.Equal(t, "NOT_FOUND: insight missing", err.Error())
}
