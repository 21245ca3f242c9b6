// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sematica-ai/memory-engine/cmd/memory-engine-api/handlers"
	"github.com/sematica-ai/memory-engine/cmd/memory-engine-api/middleware"
	"github.com/sematica-ai/memory-engine/internal/api/rpc"
	"github.com/sematica-ai/memory-engine/internal/config"
	"github.com/sematica-ai/memory-engine/internal/memory"
	"github.com/sematica-ai/memory-engine/internal/observability"
	"github.com/sematica-ai/memory-engine/internal/task"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, service *memory.Service, tasks *task.Store) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))

	// Health check (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"memory-engine"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready"}`))
	})

	insightsHandler := handlers.NewInsightsHandler(logger, service)
	kbHandler := handlers.NewKBHandler(logger, service)
	tasksHandler := handlers.NewTasksHandler(logger, tasks)

	authCfg := middleware.AuthConfig{
		Enabled: cfg.Server.AuthEnabled,
		APIKey:  cfg.Server.APIKey,
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(authCfg, logger))

		r.Route("/insights", func(r chi.Router) {
			r.Post("/", insightsHandler.Store)
			r.Get("/", insightsHandler.List)
			r.Get("/{id}", insightsHandler.Get)
			r.Patch("/{id}", insightsHandler.Update)
			r.Delete("/{id}", insightsHandler.Forget)
			r.Get("/{id}/related", insightsHandler.Related)
		})

		r.Post("/search", insightsHandler.Search)

		r.Route("/subjects", func(r chi.Router) {
			r.Get("/insights", insightsHandler.SearchBySubject)
			r.Post("/relations", insightsHandler.AddSubjectRelation)
			r.Get("/relations", insightsHandler.GetSubjectRelations)
		})

		r.Route("/kb", func(r chi.Router) {
			r.Post("/", kbHandler.Add)
			r.Get("/", kbHandler.List)
			r.Post("/search", kbHandler.Search)
			r.Post("/{name}/refresh", kbHandler.Refresh)
			r.Delete("/{name}", kbHandler.Delete)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", tasksHandler.Create)
			r.Get("/", tasksHandler.List)
			r.Get("/{id}", tasksHandler.Get)
			r.Post("/{id}/transition", tasksHandler.Transition)
			r.Post("/{id}/dependencies", tasksHandler.AddDependencies)
			r.Post("/{id}/locks", tasksHandler.AssignLocks)
			r.Get("/{id}/locks", tasksHandler.ListLocks)
			r.Delete("/{id}/locks", tasksHandler.ReleaseLocks)
			r.Post("/{id}/events", tasksHandler.AppendEvent)
			r.Get("/{id}/events", tasksHandler.ListEvents)
		})
	})

	// Connect RPC mount for agent tool clients. chi's Handle preserves
	// the full request path, which the procedure mux matches on.
	rpcMux := http.NewServeMux()
	rpc.NewMemoryService(service, logger).Mount(rpcMux)
	r.Handle("/memory.v1.MemoryService/*", rpcMux)

	return r
}
