package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Store backend names accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"7313"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"127.0.0.1"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`

	Store      StoreConfig
	Database   DatabaseConfig
	Schema     SchemaConfig
	Cache      RelationshipCacheConfig
	Embeddings EmbeddingsConfig
	Indexer    IndexerConfig

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// StoreConfig selects and tunes the node store backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `env:"STORE_BACKEND" envDefault:"memory"`
}

// DatabaseConfig holds PostgreSQL connection settings, used only when the
// postgres backend is selected.
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"loreweave"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"loreweave"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"2"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// SchemaConfig locates the built-in type schema seed.
type SchemaConfig struct {
	// SeedPath points at a YAML file with built-in node and relationship
	// type schemas. Empty means compiled-in defaults only.
	SeedPath string `env:"SCHEMA_SEED_PATH" envDefault:""`
}

// RelationshipCacheConfig tunes the inbound relationship-type cache.
type RelationshipCacheConfig struct {
	// TTL is the maximum tolerated snapshot staleness.
	TTL time.Duration `env:"RELATIONSHIP_CACHE_TTL" envDefault:"30s"`
}

// EmbeddingsConfig holds embedding client configuration.
type EmbeddingsConfig struct {
	// GoogleAPIKey enables the Generative AI embeddings client when set.
	GoogleAPIKey string `env:"GOOGLE_API_KEY" envDefault:""`

	// Model is the embedding model name.
	Model string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`

	// Dimension is the embedding vector dimension.
	Dimension int `env:"EMBEDDING_DIMENSION" envDefault:"768"`

	// InputLimit is the model input budget in runes; aggregates above it
	// are chunked.
	InputLimit int `env:"EMBEDDING_INPUT_LIMIT" envDefault:"2000"`

	// NetworkDisabled forces the noop client (for testing).
	NetworkDisabled bool `env:"EMBEDDINGS_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if an embedding backend is configured.
func (e *EmbeddingsConfig) IsEnabled() bool {
	if e.NetworkDisabled {
		return false
	}
	return e.GoogleAPIKey != ""
}

// IndexerConfig tunes the semantic index worker.
type IndexerConfig struct {
	// IndexPath is the SQLite file backing the vector index.
	// Empty selects an in-memory database.
	IndexPath string `env:"SEMANTIC_INDEX_PATH" envDefault:"loreweave-index.db"`

	// QueueSize bounds the pending re-index queue (distinct roots).
	QueueSize int `env:"INDEXER_QUEUE_SIZE" envDefault:"256"`

	// Debounce collapses repeated enqueues of one root within the window.
	Debounce time.Duration `env:"INDEXER_DEBOUNCE" envDefault:"500ms"`

	// MaxAttempts caps retries per job before it is dropped.
	MaxAttempts int `env:"INDEXER_MAX_ATTEMPTS" envDefault:"5"`

	// RetryBaseDelay is the base for exponential retry backoff.
	RetryBaseDelay time.Duration `env:"INDEXER_RETRY_BASE_DELAY" envDefault:"1s"`

	// VectorCacheSize bounds the content-hash vector cache (entries).
	VectorCacheSize int `env:"INDEXER_VECTOR_CACHE_SIZE" envDefault:"2048"`
}

// NewConfig loads configuration from environment variables.
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Store.Backend != BackendMemory && cfg.Store.Backend != BackendPostgres {
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("store_backend", cfg.Store.Backend),
		slog.Bool("embeddings_enabled", cfg.Embeddings.IsEnabled()),
	)

	return cfg, nil
}
