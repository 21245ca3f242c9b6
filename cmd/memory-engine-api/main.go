// memory-engine-api is the HTTP server for the semantic memory engine.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sematica-ai/memory-engine/internal/cache"
	"github.com/sematica-ai/memory-engine/internal/config"
	"github.com/sematica-ai/memory-engine/internal/crawl"
	"github.com/sematica-ai/memory-engine/internal/embedding"
	"github.com/sematica-ai/memory-engine/internal/ingest"
	"github.com/sematica-ai/memory-engine/internal/memory"
	"github.com/sematica-ai/memory-engine/internal/normalize"
	"github.com/sematica-ai/memory-engine/internal/observability"
	"github.com/sematica-ai/memory-engine/internal/storage"
	"github.com/sematica-ai/memory-engine/internal/task"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "memory-engine-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "memory-engine-api",
	})

	logger.Info().
		Str("db_path", cfg.Database.Path).
		Int("port", cfg.Server.Port).
		Msg("Starting memory engine API")

	ctx := context.Background()

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := storage.NewStore(db, logger)
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	tasks := task.NewStore(db, logger)

	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	if cfg.Cache.Enabled {
		cacheClient, err := cache.New(cfg.Cache)
		if err != nil {
			logger.Warn().Err(err).Msg("Cache unavailable, embeddings will not be cached")
		} else if cacheClient != nil {
			embedder = embedding.NewCachingEmbedder(embedder, cacheClient, cfg.Cache.TTL, logger)
			defer cacheClient.Close()
		}
	}

	llm, err := normalize.NewClient(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	normalizer := normalize.NewNormalizer(llm, logger)

	// The crawler is optional: without a Firecrawl key the KB endpoints
	// still serve search and directory ingestion.
	var crawler crawl.Service
	if cfg.Crawler.APIKey != "" {
		fc, err := crawl.NewFirecrawlClient(cfg.Crawler, logger)
		if err != nil {
			return fmt.Errorf("create crawler: %w", err)
		}
		crawler = fc
	} else {
		logger.Warn().Msg("FIRECRAWL_API_KEY not set, crawl ingestion disabled")
	}

	ingestor := ingest.NewIngestor(store, normalizer, embedder, crawler, ingest.Config{
		MaxChars:      cfg.Ingestion.ChunkSize,
		MinConfidence: cfg.Ingestion.MinConfidence,
	}, logger)

	service := memory.NewService(store, normalizer, embedder, ingestor, logger)

	router := NewRouter(logger, cfg, service, tasks)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown started")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	logger.Info().Msg("Server stopped")
	return nil
}
