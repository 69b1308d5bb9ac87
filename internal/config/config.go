package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"polyglotd"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"polyglotd"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI          bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIngestWorker bool   `envconfig:"ENABLE_INGEST_WORKER" default:"true"`
	MigrationPath      string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	GeminiAPIKey       string `envconfig:"GEMINI_API_KEY"`
	RerankProvider     string `envconfig:"RERANK_PROVIDER" default:"jina"`
	RerankAPIKey       string `envconfig:"RERANK_API_KEY"`

	// Chunking
	ChunkSizeTokens    int `envconfig:"CHUNK_SIZE_TOKENS" default:"512"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"50"`
	EmbedBatchSize     int `envconfig:"EMBED_BATCH_SIZE" default:"16"`

	// Retrieval
	OverfetchK      int `envconfig:"OVERFETCH_K" default:"30"`
	RerankK         int `envconfig:"RERANK_K" default:"10"`
	MaxContextChars int `envconfig:"MAX_CONTEXT_CHARS" default:"8000"`

	// Cache
	CachePath                string `envconfig:"CACHE_PATH" default:"data/cache.db"`
	CacheTTLSeconds          int    `envconfig:"CACHE_TTL_SECONDS" default:"300"`
	CachePreciseInvalidation bool   `envconfig:"CACHE_PRECISE_INVALIDATION" default:"false"`

	// Stage timeouts
	EmbedTimeoutSeconds  int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"30"`
	SearchTimeoutSeconds int `envconfig:"SEARCH_TIMEOUT_SECONDS" default:"10"`
	RerankTimeoutSeconds int `envconfig:"RERANK_TIMEOUT_SECONDS" default:"10"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.ChunkSizeTokens <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE_TOKENS must be positive", ErrMissingRequired)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkSizeTokens {
		return fmt.Errorf("%w: CHUNK_OVERLAP_TOKENS must be in [0, CHUNK_SIZE_TOKENS)", ErrMissingRequired)
	}
	if c.OverfetchK < c.RerankK {
		return fmt.Errorf("%w: OVERFETCH_K must be >= RERANK_K", ErrMissingRequired)
	}
	return nil
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSeconds) * time.Second
}

func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSeconds) * time.Second
}

func (c *Config) RerankTimeout() time.Duration {
	return time.Duration(c.RerankTimeoutSeconds) * time.Second
}
