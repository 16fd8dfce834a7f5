// Package secrets resolves credential references in configuration values.
//
// A value of the form "scheme:ref" is looked up in the provider registered
// for scheme: "env:OPENAI_API_KEY", "file:/run/secrets/neo4j_password" or
// "vault:layoutrag#openai_api_key". Any other value is returned unchanged.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Provider looks up a secret by reference.
type Provider interface {
	Get(ctx context.Context, ref string) (string, error)
	Name() string
}

// Resolver dispatches references to providers by scheme and caches hits.
type Resolver struct {
	providers map[string]Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewResolver registers providers under their names.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider), cache: make(map[string]string)}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// FromEnv returns a resolver with env and file providers, plus vault when
// VAULT_ADDR and VAULT_TOKEN are set.
func FromEnv() *Resolver {
	providers := []Provider{EnvProvider{}, FileProvider{}}
	if addr, token := os.Getenv("VAULT_ADDR"), os.Getenv("VAULT_TOKEN"); addr != "" && token != "" {
		if v, err := NewVaultProvider(&VaultConfig{Address: addr, Token: token}); err == nil {
			providers = append(providers, v)
		}
	}
	return NewResolver(providers...)
}

// IsReference reports whether value names a registered scheme.
func (r *Resolver) IsReference(value string) bool {
	scheme, _, ok := strings.Cut(value, ":")
	if !ok {
		return false
	}
	_, known := r.providers[scheme]
	return known
}

// Resolve returns the secret value refers to, or value itself when it is
// not a reference.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !r.IsReference(value) {
		return value, nil
	}

	r.mu.RLock()
	cached, ok := r.cache[value]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	scheme, ref, _ := strings.Cut(value, ":")
	secret, err := r.providers[scheme].Get(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", scheme, err)
	}

	r.mu.Lock()
	r.cache[value] = secret
	r.mu.Unlock()
	return secret, nil
}

// ResolveAll resolves each pointed-to value in place.
func (r *Resolver) ResolveAll(ctx context.Context, values ...*string) error {
	for _, v := range values {
		resolved, err := r.Resolve(ctx, *v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}

// EnvProvider reads environment variables.
type EnvProvider struct{}

func (EnvProvider) Name() string { return "env" }

func (EnvProvider) Get(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("environment variable %s not set", ref)
	}
	return v, nil
}
