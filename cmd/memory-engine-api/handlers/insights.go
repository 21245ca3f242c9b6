package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sematica-ai/memory-engine/internal/memory"
	"github.com/sematica-ai/memory-engine/internal/observability"
)

// InsightsHandler serves the insight and subject-graph endpoints.
type InsightsHandler struct {
	logger  *observability.Logger
	service *memory.Service
}

// NewInsightsHandler creates the handler.
func NewInsightsHandler(logger *observability.Logger, service *memory.Service) *InsightsHandler {
	return &InsightsHandler{
		logger:  logger.WithComponent("insights-handler"),
		service: service,
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Store handles POST /api/v1/insights.
func (h *InsightsHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req memory.StoreInsightRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.service.StoreInsight(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Search handles POST /api/v1/search.
func (h *InsightsHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query  string `json:"query"`
		Domain string `json:"domain"`
		Limit  int    `json:"limit"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	results, err := h.service.SearchInsights(r.Context(), req.Query, req.Domain, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// List handles GET /api/v1/insights.
func (h *InsightsHandler) List(w http.ResponseWriter, r *http.Request) {
	insights, err := h.service.ListInsights(r.Context(),
		r.URL.Query().Get("domain"),
		r.URL.Query().Get("frame"),
		queryInt(r, "limit", 20),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"insights": insights})
}

// Get handles GET /api/v1/insights/{id}.
func (h *InsightsHandler) Get(w http.ResponseWriter, r *http.Request) {
	insight, err := h.service.GetInsight(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

// Update handles PATCH /api/v1/insights/{id}.
func (h *InsightsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var fields map[string]interface{}
	if !decodeBody(w, r, &fields) {
		return
	}
	insight, err := h.service.UpdateInsight(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

// Forget handles DELETE /api/v1/insights/{id}.
func (h *InsightsHandler) Forget(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Forget(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Related handles GET /api/v1/insights/{id}/related.
func (h *InsightsHandler) Related(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.RelatedInsights(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// SearchBySubject handles GET /api/v1/subjects/insights.
func (h *InsightsHandler) SearchBySubject(w http.ResponseWriter, r *http.Request) {
	insights, err := h.service.SearchBySubject(r.Context(),
		r.URL.Query().Get("name"),
		r.URL.Query().Get("kind"),
		queryInt(r, "limit", 10),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"insights": insights})
}

// AddSubjectRelation handles POST /api/v1/subjects/relations.
func (h *InsightsHandler) AddSubjectRelation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromName string `json:"from_name"`
		FromKind string `json:"from_kind"`
		Relation string `json:"relation"`
		ToName   string `json:"to_name"`
		ToKind   string `json:"to_kind"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.service.AddSubjectRelation(r.Context(), req.FromName, req.FromKind, req.Relation, req.ToName, req.ToKind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"added": true})
}

// GetSubjectRelations handles GET /api/v1/subjects/relations.
func (h *InsightsHandler) GetSubjectRelations(w http.ResponseWriter, r *http.Request) {
	relations, err := h.service.GetSubjectRelations(r.Context(),
		r.URL.Query().Get("name"),
		r.URL.Query().Get("kind"),
		r.URL.Query().Get("relation"),
		queryInt(r, "limit", 50),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"relations": relations})
}
