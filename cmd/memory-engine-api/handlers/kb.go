package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sematica-ai/memory-engine/internal/memory"
	"github.com/sematica-ai/memory-engine/internal/observability"
)

// KBHandler serves the knowledge-base endpoints. Ingestion runs
// synchronously within the request, so crawls of large sites should use
// the CLI instead.
type KBHandler struct {
	logger  *observability.Logger
	service *memory.Service
}

// NewKBHandler creates the handler.
func NewKBHandler(logger *observability.Logger, service *memory.Service) *KBHandler {
	return &KBHandler{
		logger:  logger.WithComponent("kb-handler"),
		service: service,
	}
}

// Add handles POST /api/v1/kb.
func (h *KBHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req memory.AddKnowledgeBaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.service.AddKnowledgeBase(r.Context(), req, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// List handles GET /api/v1/kb.
func (h *KBHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListKnowledgeBases(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"knowledge_bases": list})
}

// Search handles POST /api/v1/kb/search.
func (h *KBHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		KB    string `json:"kb"`
		Limit int    `json:"limit"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	results, err := h.service.SearchKnowledgeBase(r.Context(), req.Query, req.KB, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// Refresh handles POST /api/v1/kb/{name}/refresh.
func (h *KBHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL        string `json:"url"`
		ScrapeOnly bool   `json:"scrape_only"`
		Limit      int    `json:"limit"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.service.RefreshKnowledgeBase(r.Context(), chi.URLParam(r, "name"), req.URL, req.ScrapeOnly, req.Limit, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Delete handles DELETE /api/v1/kb/{name}.
func (h *KBHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteKnowledgeBase(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
