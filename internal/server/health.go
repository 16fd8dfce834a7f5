// Package server provides health endpoints and graceful shutdown for the
// API server and the ingestion worker.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck represents a single health check.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is the response from health endpoints.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker is a function that performs a health check.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthServer provides HTTP health check endpoints.
type HealthServer struct {
	mu           sync.RWMutex
	checks       map[string]HealthChecker
	version      string
	timeout      time.Duration
	ready        bool
	live         bool
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// HealthConfig configures the health server.
type HealthConfig struct {
	Version string
	// CheckTimeout bounds one /health evaluation (default: 5s).
	CheckTimeout time.Duration
}

// NewHealthServer creates a new health server. It starts live but not
// ready; callers flip readiness once the evidence store is reachable.
func NewHealthServer(config *HealthConfig) *HealthServer {
	s := &HealthServer{
		checks:       make(map[string]HealthChecker),
		timeout:      5 * time.Second,
		live:         true,
		shutdownChan: make(chan struct{}),
	}
	if config != nil {
		s.version = config.Version
		if config.CheckTimeout > 0 {
			s.timeout = config.CheckTimeout
		}
	}
	return s
}

// RegisterCheck adds a health check.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady marks the server as ready to accept traffic.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLive marks the server as live (or not).
func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Register mounts the health endpoints on mux.
func (s *HealthServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /healthz", s.handleHealth) // Kubernetes alias
	mux.HandleFunc("GET /readyz", s.handleReady)   // Kubernetes alias
	mux.HandleFunc("GET /livez", s.handleLive)     // Kubernetes alias
}

// Handler returns an http.Handler serving only the health endpoints.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// ListenAndServe serves the health endpoints on their own address until
// Shutdown is called. The worker uses it; the API server mounts them
// alongside its own routes instead.
func (s *HealthServer) ListenAndServe(addr string) error {
	if addr == "" {
		addr = ":8081"
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: s.timeout + 5*time.Second,
	}

	go func() {
		<-s.shutdownChan
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a server started with ListenAndServe.
func (s *HealthServer) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
}

// Evaluate runs every registered check and folds them into one status.
// Checks are reported sorted by name.
func (s *HealthServer) Evaluate(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	checks := make(map[string]HealthChecker, len(s.checks))
	for k, v := range s.checks {
		names = append(names, k)
		checks[k] = v
	}
	version := s.version
	s.mu.RUnlock()
	sort.Strings(names)

	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    make([]HealthCheck, 0, len(names)),
	}
	for _, name := range names {
		check := checks[name](ctx)
		check.Name = name
		response.Checks = append(response.Checks, check)

		switch {
		case check.Status == HealthStatusUnhealthy:
			response.Status = HealthStatusUnhealthy
		case check.Status == HealthStatusDegraded && response.Status == HealthStatusHealthy:
			response.Status = HealthStatusDegraded
		}
	}
	return response
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := s.Evaluate(r.Context())
	statusCode := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	s.writeProbe(w, ready)
}

func (s *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	live := s.live
	s.mu.RUnlock()
	s.writeProbe(w, live)
}

func (s *HealthServer) writeProbe(w http.ResponseWriter, ok bool) {
	response := HealthResponse{Status: HealthStatusHealthy, Timestamp: time.Now().UTC()}
	if !ok {
		response.Status = HealthStatusUnhealthy
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode health response", "error", err)
	}
}

// Common health checkers

// StoreHealthChecker reports the evidence store. Unreachable is unhealthy:
// neither ingestion nor retrieval can work without it.
func StoreHealthChecker(backend string, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"backend": backend}
		if err := ping(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "Evidence store unreachable: " + err.Error(),
				Details: details,
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "Evidence store OK", Details: details}
	}
}

// EmbedderHealthChecker reports the embedding service. A failing probe only
// degrades the service since stored evidence remains readable.
func EmbedderHealthChecker(provider string, probe func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"provider": provider}
		if probe == nil {
			return HealthCheck{Status: HealthStatusHealthy, Message: "Embedding provider configured", Details: details}
		}
		if err := probe(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "Embedding provider degraded: " + err.Error(),
				Details: details,
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "Embedding provider OK", Details: details}
	}
}

// TemporalHealthChecker creates a health check for Temporal connectivity.
func TemporalHealthChecker(checkFn func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := checkFn(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "Temporal connection failed: " + err.Error(),
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "Temporal connection OK"}
	}
}

// DirectoryHealthChecker verifies that dir exists and accepts new files.
// Uploads and stored documents both live on local disk.
func DirectoryHealthChecker(dir string) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		details := map[string]string{"path": dir}
		info, err := os.Stat(dir)
		if err != nil {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: "Directory unavailable: " + err.Error(), Details: details}
		}
		if !info.IsDir() {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: "Not a directory", Details: details}
		}
		f, err := os.CreateTemp(dir, ".healthcheck-*")
		if err != nil {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: "Directory not writable: " + err.Error(), Details: details}
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
		return HealthCheck{Status: HealthStatusHealthy, Message: "Directory writable", Details: details}
	}
}
