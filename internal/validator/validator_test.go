package validator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_MalformedPayloads(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		code   string
		reason string
	}{
		{"empty stdin", "", CodeSchemaInvalid, "empty stdin payload"},
		{"whitespace only", "  \n\t ", CodeSchemaInvalid, "empty stdin payload"},
		{"invalid json", "{not json", CodeSchemaInvalid, "invalid JSON"},
		{"top-level array", `[1, 2]`, CodeSchemaInvalid, "top-level payload must be object"},
		{"missing locks", `{"other": 1}`, CodeMissingInput, "locks must be an array"},
		{"locks not array", `{"locks": "nope"}`, CodeMissingInput, "locks must be an array"},
		{"lock entry not object", `{"locks": ["nope"]}`, CodeSchemaInvalid, "lock entries must be objects"},
		{"missing task id", `{"locks": [{"resource": "src", "active": true}]}`, CodeSchemaInvalid, "lock.task_id must be non-empty string"},
		{"empty task id", `{"locks": [{"task_id": "", "resource": "src", "active": true}]}`, CodeSchemaInvalid, "lock.task_id must be non-empty string"},
		{"blank resource", `{"locks": [{"task_id": "t1", "resource": "  ", "active": true}]}`, CodeSchemaInvalid, "lock.resource must be non-empty string"},
		{"active not bool", `{"locks": [{"task_id": "t1", "resource": "src", "active": "yes"}]}`, CodeSchemaInvalid, "lock.active must be bool"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Check([]byte(tt.raw))
			assert.False(t, result.Allow)
			assert.Equal(t, tt.code, result.Code)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestCheck_NoOverlap(t *testing.T) {
	result := Check([]byte(`{"locks": [
		{"task_id": "t1", "resource": "src/api", "active": true},
		{"task_id": "t2", "resource": "src/worker", "active": true},
		{"task_id": "t3", "resource": "src/api", "active": false}
	]}`))

	assert.True(t, result.Allow)
	assert.Equal(t, CodeOK, result.Code)
	assert.Equal(t, "no active lock overlap", result.Reason)
	assert.Equal(t, 2, result.Details["active_lock_count"], "inactive locks are not counted")
}

func TestCheck_EmptyLockList(t *testing.T) {
	result := Check([]byte(`{"locks": []}`))
	assert.True(t, result.Allow)
	assert.Equal(t, 0, result.Details["active_lock_count"])
}

func TestCheck_CrossTaskOverlap(t *testing.T) {
	result := Check([]byte(`{"locks": [
		{"task_id": "t1", "resource": "src/api", "active": true},
		{"task_id": "t2", "resource": "src/api/handlers.go", "active": true}
	]}`))

	assert.False(t, result.Allow)
	assert.Equal(t, CodeLockConflict, result.Code)
	assert.Equal(t, "overlapping active locks detected", result.Reason)

	conflicts, ok := result.Details["conflicts"].([]Conflict)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "t1", conflicts[0].TaskA)
	assert.Equal(t, "t2", conflicts[0].TaskB)
}

func TestCheck_SameTaskNeverConflicts(t *testing.T) {
	result := Check([]byte(`{"locks": [
		{"task_id": "t1", "resource": "src", "active": true},
		{"task_id": "t1", "resource": "src/api", "active": true}
	]}`))

	assert.True(t, result.Allow)
}

func TestCheck_InactiveLocksIgnored(t *testing.T) {
	result := Check([]byte(`{"locks": [
		{"task_id": "t1", "resource": "src/api", "active": true},
		{"task_id": "t2", "resource": "src/api", "active": false}
	]}`))

	assert.True(t, result.Allow)
}

func TestCheck_NormalizesBeforeComparing(t *testing.T) {
	// Trailing slashes and backslashes collapse to the same resource.
	result := Check([]byte(`{"locks": [
		{"task_id": "t1", "resource": "src/api/", "active": true},
		{"task_id": "t2", "resource": "src\\api", "active": true}
	]}`))

	assert.False(t, result.Allow)
	assert.Equal(t, CodeLockConflict, result.Code)
}

func TestEncode_CompactSingleLine(t *testing.T) {
	out, err := Encode(Check([]byte(`{"locks": []}`)))
	require.NoError(t, err)
	assert.False(t, strings.Contains(out, "\n"))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["allow"])
	assert.Equal(t, "OK", decoded["code"])
}
