package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures retry behavior for embedding calls.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (0 = no retries)
	RetryDelay time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Caps exponential backoff
	Timeout    time.Duration // Per-attempt timeout
}

// DefaultRetryConfig returns a sensible default configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Timeout:    60 * time.Second,
	}
}

// Retry wraps an Embedder with per-attempt timeouts and exponential backoff.
// Safe because embedding is a pure function of its input.
type Retry struct {
	inner  Embedder
	config *RetryConfig
	logger *slog.Logger
}

// NewRetry wraps inner with retry logic. A nil config uses defaults.
func NewRetry(inner Embedder, config *RetryConfig, logger *slog.Logger) *Retry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retry{inner: inner, config: config, logger: logger}
}

func (r *Retry) Name() string    { return r.inner.Name() }
func (r *Retry) Dimensions() int { return r.inner.Dimensions() }

// Embed calls the inner embedder until it succeeds, fails permanently or
// runs out of attempts.
func (r *Retry) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.RetryDelay
	if r.config.MaxDelay > 0 {
		b.MaxInterval = r.config.MaxDelay
	}

	attempts := 0
	op := func() ([][]float32, error) {
		attempts++
		attemptCtx := ctx
		if r.config.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
			defer cancel()
		}
		vectors, err := r.inner.Embed(attemptCtx, texts)
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if !IsRetryable(err) {
			return nil, backoff.Permanent(fmt.Errorf("non-retryable error: %w", err))
		}
		return nil, err
	}

	vectors, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.config.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.WarnContext(ctx, "embedding attempt failed, retrying",
				"provider", r.inner.Name(), "attempt", attempts, "next_in", next, "error", err)
		}),
	)
	if err != nil {
		if attempts > r.config.MaxRetries && IsRetryable(err) {
			return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.config.MaxRetries, err)
		}
		return nil, err
	}
	return vectors, nil
}

// IsRetryable determines if an embedding error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Caller cancelled
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrDimensionMismatch) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if code := statusCode(err); code != 0 {
		return code == http.StatusTooManyRequests || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "non-retryable") {
		return false
	}
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests") {
		return true
	}
	for _, code := range []int{500, 502, 503, 504} {
		if strings.Contains(errStr, fmt.Sprint(code)) || strings.Contains(errStr, http.StatusText(code)) {
			return true
		}
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		if strings.Contains(errStr, fmt.Sprint(code)) {
			return false
		}
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "EOF") {
		return true
	}
	return false
}
