// Package api serves ingestion, question answering and the evidence viewer
// over HTTP.
package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
	"github.com/lumozai/layout-aware-rag-demo/internal/query"
	"github.com/lumozai/layout-aware-rag-demo/internal/server"
)

//go:embed static
var staticFS embed.FS

// Uploader ingests an uploaded file.
type Uploader interface {
	Upload(ctx context.Context, filename string, body io.Reader, opts ingest.Options) (*ingest.Result, error)
}

// Answerer answers questions.
type Answerer interface {
	Answer(ctx context.Context, req query.Request) (*query.Response, error)
}

// ChunkSource looks up a single chunk.
type ChunkSource interface {
	GetChunk(ctx context.Context, id string) (*evidence.QueryResult, error)
}

// Config holds API server configuration.
type Config struct {
	ListenAddr     string // e.g. ":8000"
	DocumentsDir   string
	MaxUploadMB    int64
	IngestTimeout  time.Duration
	QueryTimeout   time.Duration
	ExposeErrors   bool
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":8000",
		DocumentsDir:   "documents",
		MaxUploadMB:    50,
		IngestTimeout:  10 * time.Minute,
		QueryTimeout:   30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Server is the HTTP front of the service.
type Server struct {
	config         *Config
	uploader       Uploader
	answerer       Answerer
	chunks         ChunkSource
	health         *server.HealthServer
	logger         *slog.Logger
	maxUploadBytes int64
	handler        http.Handler
	server         *http.Server
}

// New creates a fully wired server. health may be nil.
func New(config *Config, u Uploader, a Answerer, c ChunkSource, health *server.HealthServer, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = server.NewHealthServer(nil)
	}
	maxMB := config.MaxUploadMB
	if maxMB <= 0 {
		maxMB = DefaultConfig().MaxUploadMB
	}

	s := &Server{
		config:         config,
		uploader:       u,
		answerer:       a,
		chunks:         c,
		health:         health,
		logger:         logger,
		maxUploadBytes: maxMB << 20,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /documents/{id}", s.handleDocument)
	mux.HandleFunc("GET /chunks/{id}", s.handleChunk)
	mux.HandleFunc("GET /viewer", s.handleViewer)
	mux.Handle("GET /metrics", observability.Metrics().Handler())
	health.Register(mux)

	s.handler = correlationMiddleware(corsMiddleware(config.AllowedOrigins, loggingMiddleware(logger, mux)))
	s.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting api server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
