package embedding

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures rate limiting for embedding providers.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// BurstSize allows temporary burst above the rate limit
	BurstSize int
}

// DefaultRateLimitConfig returns defaults suited to hosted free tiers.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 300,
		BurstSize:         5,
	}
}

// RateLimit wraps an Embedder with a token bucket.
type RateLimit struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimit creates a rate-limited wrapper. A zero RequestsPerMinute
// means unlimited.
func NewRateLimit(inner Embedder, config *RateLimitConfig) *RateLimit {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RequestsPerMinute))
	}
	return &RateLimit{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimit) Name() string    { return r.inner.Name() }
func (r *RateLimit) Dimensions() int { return r.inner.Dimensions() }

// Embed waits for a token and then delegates.
func (r *RateLimit) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

// WithRateLimit wraps e with rate limiting, or returns e unchanged when
// config is nil or unlimited.
func WithRateLimit(e Embedder, config *RateLimitConfig) Embedder {
	if e == nil || config == nil || config.RequestsPerMinute <= 0 {
		return e
	}
	return NewRateLimit(e, config)
}
