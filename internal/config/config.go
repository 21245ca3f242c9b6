// Package config loads and validates memory engine configuration.
//
// Precedence: defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the engine and its binaries.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite file. Parent directories are created on open.
	Path          string `yaml:"path"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of: openai, bedrock, mock.
	Provider string                 `yaml:"provider"`
	OpenAI   OpenAIEmbeddingConfig  `yaml:"openai"`
	Bedrock  BedrockEmbeddingConfig `yaml:"bedrock"`
}

// OpenAIEmbeddingConfig configures the OpenAI embeddings endpoint.
type OpenAIEmbeddingConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// BedrockEmbeddingConfig configures Titan embeddings on Bedrock.
type BedrockEmbeddingConfig struct {
	Model   string `yaml:"model"`
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// LLMConfig selects and configures the normalization LLM.
type LLMConfig struct {
	// Provider is one of: anthropic, bedrock, mock.
	Provider  string             `yaml:"provider"`
	Anthropic AnthropicLLMConfig `yaml:"anthropic"`
	Bedrock   BedrockLLMConfig   `yaml:"bedrock"`
}

// AnthropicLLMConfig configures the Anthropic API client.
type AnthropicLLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// BedrockLLMConfig configures Anthropic models served through Bedrock.
type BedrockLLMConfig struct {
	Model   string `yaml:"model"`
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// IngestionConfig tunes the knowledge-base pipeline.
type IngestionConfig struct {
	// ChunkSize caps chunk length in characters.
	ChunkSize int `yaml:"chunk_size"`
	// MinConfidence drops normalized chunks scoring below it. Applies
	// only at the ingestion boundary, never to store_insight.
	MinConfidence float64 `yaml:"min_confidence"`
	// MaxPages bounds how many URLs a single ingestion visits.
	MaxPages int `yaml:"max_pages"`
}

// CrawlerConfig configures the Firecrawl client.
type CrawlerConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	AuthEnabled  bool          `yaml:"auth_enabled"`
	APIKey       string        `yaml:"api_key"`
}

// CacheConfig configures the optional embedding cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is one of: memory, redis.
	Backend  string        `yaml:"backend"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when nothing is supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          defaultDBPath(),
			MaxOpenConns:  1,
			BusyTimeoutMS: 5000,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			OpenAI: OpenAIEmbeddingConfig{
				Model:   "text-embedding-3-small",
				BaseURL: "https://api.openai.com/v1",
			},
			Bedrock: BedrockEmbeddingConfig{
				Model: "amazon.titan-embed-text-v2:0",
			},
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			Anthropic: AnthropicLLMConfig{
				Model: "claude-haiku-4-5-20251001",
			},
			Bedrock: BedrockLLMConfig{
				Model: "us.anthropic.claude-haiku-4-5-20251001-v1:0",
			},
		},
		Ingestion: IngestionConfig{
			ChunkSize:     4000,
			MinConfidence: 0.5,
			MaxPages:      100,
		},
		Crawler: CrawlerConfig{
			BaseURL:      "https://api.firecrawl.dev",
			PollInterval: 2 * time.Second,
			PollTimeout:  5 * time.Minute,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8086,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: false,
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from an optional YAML file, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum fields and numeric ranges.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "openai", "bedrock", "mock":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}

	switch c.LLM.Provider {
	case "anthropic", "bedrock", "mock":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("config: database path is required")
	}
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("config: chunk_size must be positive, got %d", c.Ingestion.ChunkSize)
	}
	if c.Ingestion.MinConfidence < 0 || c.Ingestion.MinConfidence > 1 {
		return fmt.Errorf("config: min_confidence must be in [0,1], got %g", c.Ingestion.MinConfidence)
	}
	if c.Ingestion.MaxPages <= 0 {
		return fmt.Errorf("config: max_pages must be positive, got %d", c.Ingestion.MaxPages)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Enabled && c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("config: redis cache enabled but redis_url is empty")
	}
	return nil
}

// applyEnvOverrides maps the documented environment variables onto the
// config. Unset variables leave the existing values alone.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEMORY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Anthropic.APIKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Embedding.Bedrock.Region = v
		cfg.LLM.Bedrock.Region = v
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		cfg.Embedding.Bedrock.Profile = v
		cfg.LLM.Bedrock.Profile = v
	}
	if v := os.Getenv("BEDROCK_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Bedrock.Model = v
	}
	if v := os.Getenv("BEDROCK_LLM_MODEL"); v != "" {
		cfg.LLM.Bedrock.Model = v
	}
	if v := os.Getenv("FIRECRAWL_API_KEY"); v != "" {
		cfg.Crawler.APIKey = v
	}
	if v := os.Getenv("MIN_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Ingestion.MinConfidence = f
		}
	}
	if v := os.Getenv("MEMORY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MEMORY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("MEMORY_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("MEMORY_API_KEY"); v != "" {
		cfg.Server.APIKey = v
		cfg.Server.AuthEnabled = true
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
}

// defaultDBPath resolves ~/.claude/memory-access/memory.db, falling back
// to a relative path when the home directory is unknown.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "memory-access", "memory.db")
	}
	return filepath.Join(home, ".claude", "memory-access", "memory.db")
}
