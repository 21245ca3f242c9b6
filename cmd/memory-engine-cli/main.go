// Package main provides the memory engine CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

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

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	noColor    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "memory-engine-cli",
	Short: "Memory engine CLI for storing, searching, and coordinating semantic memory",
	Long: `Memory engine CLI manages a local semantic memory database.

Use this tool to:
- Store free text as normalized, frame-classified insights
- Search memory semantically or by subject
- Walk the subject knowledge graph
- Ingest documentation sites into knowledge bases
- Coordinate multi-agent work with tasks and resource locks

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := cfg.Log.Format
		if outputJSON {
			logFormat = "json"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Log.Level,
			Format:      logFormat,
			ServiceName: "memory-engine-cli",
		})

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newStoreCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newForgetCmd())
	rootCmd.AddCommand(newRelatedCmd())
	rootCmd.AddCommand(newSubjectCmd())
	rootCmd.AddCommand(newRelateCmd())
	rootCmd.AddCommand(newRelationsCmd())
	rootCmd.AddCommand(newKBCmd())
	rootCmd.AddCommand(newTaskCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engineEnv holds the wired dependencies a command needs. Close releases
// the database handle and any cache connection.
type engineEnv struct {
	store   *storage.Store
	tasks   *task.Store
	service *memory.Service
	cache   cache.Client
}

// Close releases held resources.
func (e *engineEnv) Close() {
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
}

// openEnv opens the database, applies pending migrations, and wires the
// service. Provider clients fall back to mocks when no credentials are
// configured, so read-only commands keep working offline.
func openEnv(ctx context.Context) (*engineEnv, error) {
	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := storage.NewStore(db, logger)
	if err := store.Initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	env := &engineEnv{
		store: store,
		tasks: task.NewStore(db, logger),
	}

	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		logger.Warn().Err(err).Msg("Embedding provider unavailable, using mock")
		embedder = embedding.NewMockEmbedder(0)
	}

	if cfg.Cache.Enabled {
		cacheClient, err := cache.New(cfg.Cache)
		if err != nil {
			logger.Warn().Err(err).Msg("Cache unavailable, embeddings will not be cached")
		} else if cacheClient != nil {
			embedder = embedding.NewCachingEmbedder(embedder, cacheClient, cfg.Cache.TTL, logger)
			env.cache = cacheClient
		}
	}

	llm, err := normalize.NewClient(ctx, cfg.LLM)
	if err != nil {
		logger.Warn().Err(err).Msg("LLM provider unavailable, using mock")
		llm = &normalize.MockClient{}
	}
	normalizer := normalize.NewNormalizer(llm, logger)

	var crawler crawl.Service
	if cfg.Crawler.APIKey != "" {
		fc, err := crawl.NewFirecrawlClient(cfg.Crawler, logger)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("create crawler: %w", err)
		}
		crawler = fc
	}

	ingestor := ingest.NewIngestor(store, normalizer, embedder, crawler, ingest.Config{
		MaxChars:      cfg.Ingestion.ChunkSize,
		MinConfidence: cfg.Ingestion.MinConfidence,
	}, logger)

	env.service = memory.NewService(store, normalizer, embedder, ingestor, logger)
	return env, nil
}

// printJSON writes an indented JSON document to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long:  `Migrate opens the database and applies any pending schema migrations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := storage.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			store := storage.NewStore(db, logger)
			if err := store.Initialize(ctx); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}

			version, err := store.SchemaVersion(ctx)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}

			if outputJSON {
				return printJSON(map[string]interface{}{
					"db_path":        cfg.Database.Path,
					"schema_version": version,
				})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Database at schema version %d", version)
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				_ = printJSON(map[string]string{"version": "0.1.0"})
				return
			}
			fmt.Println("memory-engine-cli v0.1.0")
		},
	}
}
