package embedding

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Config holds everything needed to create any embedding backend.
type Config struct {
	Provider string // "hash", "openai", "ollama", "tei", "custom"
	APIKey   string
	Model    string
	BaseURL  string // Override for self-hosted / custom endpoints
	Dims     int

	// SendDimensions forwards Dims to the server (OpenAI v3 models only).
	SendDimensions bool

	// Timeout and retry configuration
	Timeout    time.Duration // Per-request timeout (default: 60s)
	MaxRetries int           // Max retry attempts (0 = no retry wrapper)
	RetryDelay time.Duration // Initial retry delay (default: 500ms)

	Logger *slog.Logger
}

// DefaultConfig returns a config for the offline hashing embedder at the
// reference dimensionality.
func DefaultConfig() Config {
	return Config{
		Provider:   "hash",
		Dims:       384,
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Constructor builds an Embedder from config.
type Constructor func(cfg Config) (Embedder, error)

// Factory creates Embedder instances from config.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// NewDefaultFactory creates a factory with the built-in backends registered.
func NewDefaultFactory() *Factory {
	f := NewFactory()
	f.Register("hash", func(c Config) (Embedder, error) {
		return NewHash(c.Dims), nil
	})
	for name, url := range KnownProviders {
		name, url := name, url
		f.Register(name, func(c Config) (Embedder, error) {
			base := c.BaseURL
			if base == "" {
				base = url
			}
			return NewOpenAI(OpenAIConfig{
				Name:           name,
				APIKey:         c.APIKey,
				BaseURL:        base,
				Model:          c.Model,
				Dims:           c.Dims,
				SendDimensions: c.SendDimensions,
				Timeout:        c.Timeout,
			}), nil
		})
	}
	f.Register("custom", func(c Config) (Embedder, error) {
		if c.BaseURL == "" {
			return nil, fmt.Errorf("custom embedding provider requires base_url")
		}
		return NewOpenAI(OpenAIConfig{
			Name:           "custom",
			APIKey:         c.APIKey,
			BaseURL:        c.BaseURL,
			Model:          c.Model,
			Dims:           c.Dims,
			SendDimensions: c.SendDimensions,
			Timeout:        c.Timeout,
		}), nil
	})
	return f
}

// Register adds a constructor under the given name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.constructors[name] = ctor
}

// Create builds an Embedder from config. An empty provider selects "hash".
// Network-backed embedders are wrapped with retry logic when MaxRetries > 0.
func (f *Factory) Create(cfg Config) (Embedder, error) {
	if cfg.Provider == "" {
		cfg.Provider = "hash"
	}
	if cfg.Dims <= 0 {
		return nil, fmt.Errorf("embedding dims must be positive, got %d", cfg.Dims)
	}

	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q (registered: %v)", cfg.Provider, f.Names())
	}

	e, err := ctor(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MaxRetries > 0 && cfg.Provider != "hash" {
		return NewRetry(e, &RetryConfig{
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			MaxDelay:   10 * time.Second,
			Timeout:    cfg.Timeout,
		}, cfg.Logger), nil
	}
	return e, nil
}

// Names returns the registered provider names, sorted.
func (f *Factory) Names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KnownProviders maps OpenAI-compatible presets to their default base URLs.
// Any other compatible server works through "custom" with a base_url.
//
//	openai → https://api.openai.com/v1
//	ollama → http://localhost:11434/v1
//	tei    → http://localhost:8080/v1
var KnownProviders = map[string]string{
	"openai": "https://api.openai.com/v1",
	"ollama": "http://localhost:11434/v1",
	"tei":    "http://localhost:8080/v1",
}
