package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lumozai/layout-aware-rag-demo/internal/secrets"
)

// EnvPrefix namespaces environment overrides, e.g. LAYOUTRAG_STORE_BACKEND.
const EnvPrefix = "LAYOUTRAG"

// Store backends.
const (
	BackendNeo4j  = "neo4j"
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Store     StoreConfig     `mapstructure:"store"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Chunk     ChunkConfig     `mapstructure:"chunk"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Log       LogConfig       `mapstructure:"log"`
}

type EmbeddingConfig struct {
	Provider       string        `mapstructure:"provider"`
	Model          string        `mapstructure:"model"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Dims           int           `mapstructure:"dims"`
	SendDimensions bool          `mapstructure:"send_dimensions"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	BatchSize      int           `mapstructure:"batch_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	PoolSize       int           `mapstructure:"pool_size"`

	// RateLimit is requests per minute; 0 disables limiting.
	RateLimit int         `mapstructure:"rate_limit"`
	Cache     CacheConfig `mapstructure:"cache"`
}

// CacheConfig configures the Redis embedding cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type ParserConfig struct {
	Command string `mapstructure:"command"`
	OCR     bool   `mapstructure:"ocr"`
}

type ChunkConfig struct {
	MaxChars int `mapstructure:"max_chars"`
}

type StorageConfig struct {
	UploadDir    string `mapstructure:"upload_dir"`
	DocumentsDir string `mapstructure:"documents_dir"`
	InboxDir     string `mapstructure:"inbox_dir"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	HealthAddr    string        `mapstructure:"health_addr"`
	MaxUploadMB   int64         `mapstructure:"max_upload_mb"`
	IngestTimeout time.Duration `mapstructure:"ingest_timeout"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
	ExposeErrors  bool          `mapstructure:"expose_errors"`
	CORSOrigins   []string      `mapstructure:"cors_origins"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"embedding.provider":        "hash",
	"embedding.model":           "text-embedding-3-small",
	"embedding.api_key":         "",
	"embedding.base_url":        "",
	"embedding.dims":            384,
	"embedding.send_dimensions": false,
	"embedding.timeout":         "60s",
	"embedding.max_retries":     3,
	"embedding.retry_delay":     "500ms",
	"embedding.batch_size":      32,
	"embedding.concurrency":     4,
	"embedding.pool_size":       4,
	"embedding.rate_limit":      0,
	"embedding.cache.enabled":   false,
	"embedding.cache.addr":      "localhost:6379",
	"embedding.cache.password":  "",
	"embedding.cache.db":        0,
	"embedding.cache.ttl":       "168h",

	"store.backend": BackendNeo4j,

	"graph.uri":      "bolt://localhost:7687",
	"graph.username": "neo4j",
	"graph.password": "password",
	"graph.database": "neo4j",

	"vector.host":       "localhost",
	"vector.port":       6334,
	"vector.collection": "layout_chunks",

	"parser.command": "docling",
	"parser.ocr":     false,

	"chunk.max_chars": 1200,

	"storage.upload_dir":    "uploads",
	"storage.documents_dir": "documents",
	"storage.inbox_dir":     "inbox",

	"server.addr":           ":8000",
	"server.health_addr":    ":8081",
	"server.max_upload_mb":  50,
	"server.ingest_timeout": "10m",
	"server.query_timeout":  "30s",
	"server.expose_errors":  false,
	"server.cors_origins":   []string{"*"},

	"temporal.host":       "localhost:7233",
	"temporal.namespace":  "default",
	"temporal.task_queue": "layoutrag-ingest",

	"tracing.endpoint":    "",
	"tracing.sample_rate": 1.0,
	"tracing.environment": "development",

	"audit.enabled": false,
	"audit.path":    "stdout",

	"log.level":  "info",
	"log.format": "text",
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Check rejects values the services cannot start with.
func (c *Config) Check() error {
	if c.Embedding.Dims <= 0 {
		return fmt.Errorf("embedding.dims must be positive, got %d", c.Embedding.Dims)
	}
	if !slices.Contains([]string{BackendNeo4j, BackendQdrant, BackendMemory}, c.Store.Backend) {
		return fmt.Errorf("unknown store.backend %q (want neo4j, qdrant or memory)", c.Store.Backend)
	}
	return nil
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	p := c.Embedding.Provider
	if p != "" && p != "hash" && p != "ollama" && p != "tei" && c.Embedding.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", p))
	}
	if p == "hash" {
		warnings = append(warnings, "embedding provider 'hash' is for development; retrieval quality will be poor")
	}
	if c.Embedding.Cache.Enabled && c.Embedding.Cache.Addr == "" {
		warnings = append(warnings, "embedding cache is enabled but cache.addr is empty")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}
	if c.Server.MaxUploadMB <= 0 {
		warnings = append(warnings, fmt.Sprintf("server max_upload_mb %d is not positive; the default applies", c.Server.MaxUploadMB))
	}
	if c.Server.ExposeErrors {
		warnings = append(warnings, "server expose_errors is on; upstream failure details reach clients")
	}
	if c.Store.Backend == BackendMemory {
		warnings = append(warnings, "store backend 'memory' does not persist across restarts")
	}

	return warnings
}

// Load reads .env, then the optional config file, then LAYOUTRAG_*
// environment variables, later sources winning. An empty path looks for
// layoutrag.yaml in the working directory and tolerates its absence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("layoutrag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.ResolveSecrets(context.Background(), secrets.FromEnv()); err != nil {
		return nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	for _, warning := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}
	return cfg, nil
}

// ResolveSecrets replaces credential references such as
// "file:/run/secrets/neo4j_password" with the secrets they name.
func (c *Config) ResolveSecrets(ctx context.Context, r *secrets.Resolver) error {
	return r.ResolveAll(ctx,
		&c.Embedding.APIKey,
		&c.Embedding.Cache.Password,
		&c.Graph.Username,
		&c.Graph.Password,
	)
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	return &cfg, nil
}
