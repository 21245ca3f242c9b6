// Package handlers implements the REST endpoints of the memory engine
// API.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sematica-ai/memory-engine/internal/memory"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders a service error with its mapped HTTP status. The
// body always carries code, reason, and any details.
func writeError(w http.ResponseWriter, err error) {
	svcErr := memory.WrapError(err)
	writeJSON(w, statusForCode(svcErr.Code), svcErr)
}

func statusForCode(code string) int {
	switch code {
	case memory.CodeNotFound, memory.CodeTaskNotFound:
		return http.StatusNotFound
	case memory.CodeInvalidField:
		return http.StatusBadRequest
	case memory.CodeLockConflict, memory.CodeConcurrencyConflict:
		return http.StatusConflict
	case memory.CodeInvalidTransition, memory.CodeDependencyNotMet:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, memory.NewError(memory.CodeInvalidField, "invalid JSON body"))
		return false
	}
	return true
}

// decodeLenient tolerates an empty body, for endpoints where the body is
// optional.
func decodeLenient(r *http.Request, into interface{}) error {
	err := json.NewDecoder(r.Body).Decode(into)
	if err == io.EOF {
		return nil
	}
	return err
}
