// Package validator implements the lock-overlap check protocol: a JSON
// lock snapshot in, a single-line allow/deny verdict out. The
// check-lock-overlap binary wraps it for use as an external hook.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sematica-ai/memory-engine/internal/task"
)

// Verdict codes. The code set is closed; hooks dispatch on it.
const (
	CodeOK            = "OK"
	CodeSchemaInvalid = "SCHEMA_INVALID"
	CodeMissingInput  = "MISSING_REQUIRED_INPUT"
	CodeLockConflict  = "LOCK_CONFLICT"
)

// Result is the verdict emitted on stdout as one compact JSON line.
type Result struct {
	Allow   bool                   `json:"allow"`
	Code    string                 `json:"code"`
	Reason  string                 `json:"reason"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Conflict names one overlapping pair of active locks.
type Conflict struct {
	TaskA     string `json:"task_a"`
	ResourceA string `json:"resource_a"`
	TaskB     string `json:"task_b"`
	ResourceB string `json:"resource_b"`
}

type lockEntry struct {
	TaskID   string
	Resource string
	Active   bool
}

func deny(code, reason string, details map[string]interface{}) Result {
	return Result{Allow: false, Code: code, Reason: reason, Details: details}
}

// Check validates a raw payload and reports whether its active locks are
// free of cross-task overlap. It never returns an error; malformed input
// becomes a SCHEMA_INVALID or MISSING_REQUIRED_INPUT verdict.
func Check(raw []byte) Result {
	if strings.TrimSpace(string(raw)) == "" {
		return deny(CodeSchemaInvalid, "empty stdin payload", nil)
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return deny(CodeSchemaInvalid, "invalid JSON", map[string]interface{}{"error": err.Error()})
	}

	obj, ok := payload.(map[string]interface{})
	if !ok {
		return deny(CodeSchemaInvalid, "top-level payload must be object", nil)
	}

	locksRaw, ok := obj["locks"].([]interface{})
	if !ok {
		return deny(CodeMissingInput, "locks must be an array", nil)
	}

	locks := make([]lockEntry, 0, len(locksRaw))
	for idx, item := range locksRaw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return deny(CodeSchemaInvalid, "lock entries must be objects", map[string]interface{}{"index": idx})
		}
		taskID, ok := entry["task_id"].(string)
		if !ok || taskID == "" {
			return deny(CodeSchemaInvalid, "lock.task_id must be non-empty string", map[string]interface{}{"index": idx})
		}
		resource, ok := entry["resource"].(string)
		if !ok || strings.TrimSpace(resource) == "" {
			return deny(CodeSchemaInvalid, "lock.resource must be non-empty string", map[string]interface{}{"index": idx})
		}
		active, ok := entry["active"].(bool)
		if !ok {
			return deny(CodeSchemaInvalid, "lock.active must be bool", map[string]interface{}{"index": idx})
		}
		locks = append(locks, lockEntry{
			TaskID:   taskID,
			Resource: task.NormalizeResource(resource),
			Active:   active,
		})
	}

	var active []lockEntry
	for _, l := range locks {
		if l.Active {
			active = append(active, l)
		}
	}

	var conflicts []Conflict
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a.TaskID == b.TaskID {
				continue
			}
			if task.ResourcesOverlap(a.Resource, b.Resource) {
				conflicts = append(conflicts, Conflict{
					TaskA:     a.TaskID,
					ResourceA: a.Resource,
					TaskB:     b.TaskID,
					ResourceB: b.Resource,
				})
			}
		}
	}

	if len(conflicts) > 0 {
		return deny(CodeLockConflict, "overlapping active locks detected",
			map[string]interface{}{"conflicts": conflicts})
	}
	return Result{
		Allow:  true,
		Code:   CodeOK,
		Reason: "no active lock overlap",
		Details: map[string]interface{}{
			"active_lock_count": len(active),
		},
	}
}

// Encode renders a verdict as the compact single-line JSON the protocol
// requires.
func Encode(r Result) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode verdict: %w", err)
	}
	return string(b), nil
}
