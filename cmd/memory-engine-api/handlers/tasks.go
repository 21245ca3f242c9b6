package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sematica-ai/memory-engine/internal/memory"
	"github.com/sematica-ai/memory-engine/internal/observability"
	"github.com/sematica-ai/memory-engine/internal/task"
)

// TasksHandler serves the task coordination endpoints.
type TasksHandler struct {
	logger *observability.Logger
	tasks  *task.Store
}

// NewTasksHandler creates the handler.
func NewTasksHandler(logger *observability.Logger, tasks *task.Store) *TasksHandler {
	return &TasksHandler{
		logger: logger.WithComponent("tasks-handler"),
		tasks:  tasks,
	}
}

// Create handles POST /api/v1/tasks.
func (h *TasksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Owner string `json:"owner"`
		Actor string `json:"actor"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, memory.NewError(memory.CodeInvalidField, "title is required").WithDetail("field", "title"))
		return
	}
	t, err := h.tasks.CreateTask(r.Context(), req.Title, req.Owner, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// List handles GET /api/v1/tasks.
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	var status task.State
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := task.ParseState(s)
		if err != nil {
			writeError(w, memory.NewError(memory.CodeInvalidField, err.Error()).WithDetail("field", "status"))
			return
		}
		status = parsed
	}
	tasks, err := h.tasks.ListTasks(r.Context(), status, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// Get handles GET /api/v1/tasks/{id}.
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Transition handles POST /api/v1/tasks/{id}/transition.
func (h *TasksHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From            string `json:"from"`
		To              string `json:"to"`
		ExpectedVersion int    `json:"expected_version"`
		Actor           string `json:"actor"`
		Reason          string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	from, err := task.ParseState(req.From)
	if err != nil {
		writeError(w, memory.NewError(memory.CodeInvalidField, err.Error()).WithDetail("field", "from"))
		return
	}
	to, err := task.ParseState(req.To)
	if err != nil {
		writeError(w, memory.NewError(memory.CodeInvalidField, err.Error()).WithDetail("field", "to"))
		return
	}

	updated, err := h.tasks.Transition(r.Context(), task.TransitionRequest{
		TaskID:          chi.URLParam(r, "id"),
		From:            from,
		To:              to,
		ExpectedVersion: req.ExpectedVersion,
		Actor:           req.Actor,
		Reason:          req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// AddDependencies handles POST /api/v1/tasks/{id}/dependencies.
func (h *TasksHandler) AddDependencies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DependsOn []string `json:"depends_on"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.tasks.AddDependencies(r.Context(), chi.URLParam(r, "id"), req.DependsOn); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"depends_on": req.DependsOn})
}

// AssignLocks handles POST /api/v1/tasks/{id}/locks.
func (h *TasksHandler) AssignLocks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resources []string `json:"resources"`
		Actor     string   `json:"actor"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	locks, err := h.tasks.AssignLocks(r.Context(), chi.URLParam(r, "id"), req.Resources, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"locks": locks})
}

// ReleaseLocks handles DELETE /api/v1/tasks/{id}/locks.
func (h *TasksHandler) ReleaseLocks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resources []string `json:"resources"`
		Actor     string   `json:"actor"`
	}
	// An empty body releases everything.
	_ = decodeLenient(r, &req)
	released, err := h.tasks.ReleaseLocks(r.Context(), chi.URLParam(r, "id"), req.Resources, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"released": released})
}

// ListLocks handles GET /api/v1/tasks/{id}/locks.
func (h *TasksHandler) ListLocks(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	locks, err := h.tasks.ListLocks(r.Context(), chi.URLParam(r, "id"), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"locks": locks})
}

// AppendEvent handles POST /api/v1/tasks/{id}/events.
func (h *TasksHandler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType string                 `json:"event_type"`
		Actor     string                 `json:"actor"`
		Payload   map[string]interface{} `json:"payload"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EventType == "" {
		writeError(w, memory.NewError(memory.CodeInvalidField, "event_type is required").WithDetail("field", "event_type"))
		return
	}
	if err := h.tasks.AppendEvent(r.Context(), chi.URLParam(r, "id"), req.EventType, req.Actor, req.Payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"recorded": true})
}

// ListEvents handles GET /api/v1/tasks/{id}/events.
func (h *TasksHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.tasks.ListEvents(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
