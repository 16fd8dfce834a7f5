// Package app assembles the services from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lumozai/layout-aware-rag-demo/internal/api"
	"github.com/lumozai/layout-aware-rag-demo/internal/chunk"
	"github.com/lumozai/layout-aware-rag-demo/internal/citation"
	"github.com/lumozai/layout-aware-rag-demo/internal/config"
	"github.com/lumozai/layout-aware-rag-demo/internal/embedding"
	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
	"github.com/lumozai/layout-aware-rag-demo/internal/parser"
	"github.com/lumozai/layout-aware-rag-demo/internal/query"
	"github.com/lumozai/layout-aware-rag-demo/internal/retrieval"
	"github.com/lumozai/layout-aware-rag-demo/internal/server"
	"github.com/lumozai/layout-aware-rag-demo/internal/store"
	"github.com/lumozai/layout-aware-rag-demo/internal/store/memory"
	"github.com/lumozai/layout-aware-rag-demo/internal/store/neo4j"
	"github.com/lumozai/layout-aware-rag-demo/internal/store/qdrant"
)

// Version is stamped at build time.
var Version = "dev"

// App holds the wired services.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Embedder embedding.Embedder
	Gateway  store.Gateway
	Parser   parser.Parser
	Ingest   *ingest.Service
	Ranker   *retrieval.Ranker
	Query    *query.Service
	Health   *server.HealthServer

	hooks []server.ShutdownHook
}

// Option adjusts wiring before services are built.
type Option func(*App)

// WithParser replaces the docling parser.
func WithParser(p parser.Parser) Option {
	return func(a *App) { a.Parser = p }
}

// WithGateway supplies a ready gateway instead of dialing the configured
// backend.
func WithGateway(g store.Gateway) Option {
	return func(a *App) { a.Gateway = g }
}

// New builds every service. The store schema is ensured; a schema failure
// is logged and startup continues.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	e, closeCache, err := NewEmbedder(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	a.Embedder = e
	if closeCache != nil {
		a.hooks = append(a.hooks, server.EmbeddingCacheShutdownHook(closeCache))
	}

	if a.Gateway == nil {
		g, err := NewGateway(ctx, cfg, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Gateway = g
	}
	a.hooks = append(a.hooks, server.StoreShutdownHook(a.Gateway.Close))

	err = a.Gateway.EnsureSchema(ctx)
	observability.Audit().LogSchema(ctx, cfg.Store.Backend, err)
	if err != nil {
		logger.Error("schema setup failed", "backend", cfg.Store.Backend, "error", err)
	}

	if a.Parser == nil {
		a.Parser = parser.NewDoclingCLI(cfg.Parser.Command, cfg.Parser.OCR, logger)
	}

	builder := chunk.NewBuilder(e, chunk.Options{
		MaxChars:    cfg.Chunk.MaxChars,
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
	}, logger)
	a.Ingest = ingest.NewService(a.Parser, builder, a.Gateway, ingest.Config{
		UploadDir:    cfg.Storage.UploadDir,
		DocumentsDir: cfg.Storage.DocumentsDir,
	}, logger)
	a.Ranker = retrieval.NewRanker(e, a.Gateway, logger)
	a.Query = query.NewService(a.Ranker, citation.KeywordSynthesizer{}, logger)

	a.Health = server.NewHealthServer(&server.HealthConfig{Version: Version})
	a.Health.RegisterCheck("store", server.StoreHealthChecker(cfg.Store.Backend, a.Gateway.Ping))
	a.Health.RegisterCheck("embedding", server.EmbedderHealthChecker(e.Name(), embedderProbe(cfg.Embedding.Provider, e)))
	a.Health.RegisterCheck("documents", server.DirectoryHealthChecker(cfg.Storage.DocumentsDir))
	if err := os.MkdirAll(cfg.Storage.DocumentsDir, 0o755); err != nil {
		logger.Warn("could not create documents directory", "path", cfg.Storage.DocumentsDir, "error", err)
	}
	if err := a.Gateway.Ping(ctx); err != nil {
		logger.Warn("evidence store not reachable yet", "backend", cfg.Store.Backend, "error", err)
	} else {
		a.Health.SetReady(true)
	}

	logger.Info("services ready",
		"backend", cfg.Store.Backend, "embedder", e.Name(), "dims", e.Dimensions())
	return a, nil
}

// NewEmbedder builds the configured provider and its decorators. The
// returned close function is non-nil when a cache connection is open.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig, logger *slog.Logger) (embedding.Embedder, func() error, error) {
	e, err := embedding.NewDefaultFactory().Create(embedding.Config{
		Provider:       cfg.Provider,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		BaseURL:        cfg.BaseURL,
		Dims:           cfg.Dims,
		SendDimensions: cfg.SendDimensions,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("embedding: %w", err)
	}

	e = embedding.WithRateLimit(e, &embedding.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimit,
		BurstSize:         max(1, cfg.Concurrency),
	})
	if cfg.PoolSize > 0 {
		e = embedding.NewPool(e, cfg.PoolSize)
	}

	if !cfg.Cache.Enabled {
		return e, nil, nil
	}
	client, err := embedding.DialRedis(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
	if err != nil {
		logger.Warn("embedding cache unavailable, continuing without it", "addr", cfg.Cache.Addr, "error", err)
		return e, nil, nil
	}
	return embedding.NewCache(e, embedding.NewRedisKV(client), cfg.Cache.TTL, logger), client.Close, nil
}

// NewGateway connects to the configured evidence store.
func NewGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Gateway, error) {
	switch cfg.Store.Backend {
	case config.BackendNeo4j:
		g, err := neo4j.New(ctx, neo4j.Config{
			URI:      cfg.Graph.URI,
			Username: cfg.Graph.Username,
			Password: cfg.Graph.Password,
			Database: cfg.Graph.Database,
			Dims:     cfg.Embedding.Dims,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("evidence store: %w", err)
		}
		return g, nil
	case config.BackendQdrant:
		g, err := qdrant.New(ctx, qdrant.Config{
			Host:       cfg.Vector.Host,
			Port:       cfg.Vector.Port,
			Collection: cfg.Vector.Collection,
			Dims:       cfg.Embedding.Dims,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("evidence store: %w", err)
		}
		return g, nil
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func embedderProbe(provider string, e embedding.Embedder) func(context.Context) error {
	if provider == "" || provider == "hash" {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := embedding.EmbedOne(ctx, e, "health check")
		return err
	}
}

// APIConfig maps server settings onto the HTTP layer.
func (a *App) APIConfig() *api.Config {
	s := a.Config.Server
	return &api.Config{
		ListenAddr:     s.Addr,
		DocumentsDir:   a.Config.Storage.DocumentsDir,
		MaxUploadMB:    s.MaxUploadMB,
		IngestTimeout:  s.IngestTimeout,
		QueryTimeout:   s.QueryTimeout,
		ExposeErrors:   s.ExposeErrors,
		AllowedOrigins: s.CORSOrigins,
	}
}

// NewAPI builds the HTTP server over the app's services.
func (a *App) NewAPI() *api.Server {
	return api.New(a.APIConfig(), a.Ingest, a.Query, a.Gateway, a.Health, a.Logger)
}

// ShutdownHooks releases the app's connections.
func (a *App) ShutdownHooks() []server.ShutdownHook {
	return a.hooks
}

// Close runs every shutdown hook in priority order.
func (a *App) Close(ctx context.Context) error {
	h := server.NewShutdownHandler(&server.ShutdownConfig{Logger: a.Logger})
	for _, hook := range a.hooks {
		h.Register(hook)
	}
	return h.RunHooks(ctx)
}

// SetupObservability starts tracing and the audit log and returns the hooks
// that flush them.
func SetupObservability(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]server.ShutdownHook, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var hooks []server.ShutdownHook

	tcfg := observability.DefaultTracingConfig()
	tcfg.ServiceVersion = Version
	tcfg.OTLPEndpoint = cfg.Tracing.Endpoint
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tcfg.Environment = cfg.Tracing.Environment
	tp, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	hooks = append(hooks, server.TracingShutdownHook(tp.Shutdown))

	if cfg.Audit.Enabled {
		if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: cfg.Audit.Path,
		}); err != nil {
			return hooks, fmt.Errorf("audit log: %w", err)
		}
		hooks = append(hooks, server.AuditLoggerShutdownHook(observability.Audit().Close))
	}
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}
	return hooks, nil
}
