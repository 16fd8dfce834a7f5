package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
)

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail        string `json:"detail"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithCorrelationID(r.Context(), id)))
	})
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	anyOrigin := len(origins) == 0 || slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case anyOrigin:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", CorrelationHeader}, ", "))
		w.Header().Set("Access-Control-Expose-Headers", CorrelationHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.InfoContext(r.Context(), "http request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON", "error", err)
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, code, detail string, status int) {
	respondJSON(w, status, ErrorResponse{
		Detail:        detail,
		Code:          code,
		CorrelationID: observability.CorrelationID(ctx),
	})
}

// writeFailure maps an error's kind to a response. Caller mistakes are
// echoed back; anything else is logged in full and reported generically
// unless ExposeErrors is set.
func (s *Server) writeFailure(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch evidence.KindOf(err) {
	case evidence.KindInput:
		s.writeError(ctx, w, "BAD_REQUEST", innerMessage(err), http.StatusBadRequest)
	case evidence.KindNotFound:
		s.writeError(ctx, w, "NOT_FOUND", innerMessage(err), http.StatusNotFound)
	default:
		s.logger.ErrorContext(ctx, op+" failed", "kind", evidence.KindOf(err).String(), "error", err)
		detail := "processing failed"
		if s.config.ExposeErrors {
			detail += ": " + err.Error()
		}
		s.writeError(ctx, w, "INTERNAL_ERROR", detail, http.StatusInternalServerError)
	}
}

func innerMessage(err error) string {
	var e *evidence.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
