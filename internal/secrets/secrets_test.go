package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ==================== Provider Tests ====================

func TestEnvProvider_Get(t *testing.T) {
	t.Setenv("LAYOUTRAG_TEST_SECRET", "secret_value")

	val, err := EnvProvider{}.Get(context.Background(), "LAYOUTRAG_TEST_SECRET")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "secret_value" {
		t.Fatalf("expected 'secret_value', got %s", val)
	}

	if _, err := (EnvProvider{}).Get(context.Background(), "LAYOUTRAG_NONEXISTENT_XYZ"); err == nil {
		t.Fatal("expected error for missing variable")
	}
}

func TestFileProvider_Get(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "neo4j_password")
	if err := os.WriteFile(path, []byte("  s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	val, err := FileProvider{}.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "s3cret" {
		t.Fatalf("expected trimmed 's3cret', got %q", val)
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (FileProvider{}).Get(context.Background(), empty); err == nil {
		t.Fatal("expected error for empty secret file")
	}
	if _, err := (FileProvider{}).Get(context.Background(), filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func vaultServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/secret/data/layoutrag" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": map[string]any{"openai_api_key": "sk-test", "port": 7687}},
		})
	}))
}

func TestVaultProvider_Get(t *testing.T) {
	srv := vaultServer(t)
	defer srv.Close()

	p, err := NewVaultProvider(&VaultConfig{Address: srv.URL + "/", Token: "root"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{"layoutrag#openai_api_key", "sk-test", false},
		{"layoutrag#port", "7687", false},
		{"layoutrag#missing", "", true},
		{"other#key", "", true},
		{"layoutrag", "", true},
		{"#key", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := p.Get(context.Background(), tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVaultProvider_BadToken(t *testing.T) {
	srv := vaultServer(t)
	defer srv.Close()

	p, _ := NewVaultProvider(&VaultConfig{Address: srv.URL, Token: "wrong"})
	_, err := p.Get(context.Background(), "layoutrag#openai_api_key")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected vault 403 error, got %v", err)
	}
}

func TestNewVaultProvider_Validation(t *testing.T) {
	if _, err := NewVaultProvider(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewVaultProvider(&VaultConfig{Address: "http://vault:8200"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	p, err := NewVaultProvider(&VaultConfig{Address: "http://vault:8200", Token: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if p.config.MountPath != "secret" || p.config.Timeout == 0 {
		t.Fatalf("defaults not applied: %+v", p.config)
	}
}

// ==================== Resolver Tests ====================

type countingProvider struct {
	calls int
	err   error
}

func (c *countingProvider) Name() string { return "count" }

func (c *countingProvider) Get(_ context.Context, ref string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "value-of-" + ref, nil
}

func TestResolver_Resolve(t *testing.T) {
	t.Setenv("LAYOUTRAG_TEST_KEY", "from-env")
	r := NewResolver(EnvProvider{}, FileProvider{})

	tests := []struct {
		in   string
		want string
	}{
		{"env:LAYOUTRAG_TEST_KEY", "from-env"},
		{"plain-password", "plain-password"},
		{"", ""},
		{"bolt://localhost:7687", "bolt://localhost:7687"},
		{"vault:layoutrag#key", "vault:layoutrag#key"},
	}
	for _, tt := range tests {
		got, err := r.Resolve(context.Background(), tt.in)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolver_Caches(t *testing.T) {
	p := &countingProvider{}
	r := NewResolver(p)

	for range 3 {
		got, err := r.Resolve(context.Background(), "count:a")
		if err != nil || got != "value-of-a" {
			t.Fatalf("got %q, %v", got, err)
		}
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", p.calls)
	}
}

func TestResolver_Error(t *testing.T) {
	r := NewResolver(&countingProvider{err: errors.New("boom")})
	_, err := r.Resolve(context.Background(), "count:x")
	if err == nil || !strings.Contains(err.Error(), "resolve count secret") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestResolver_ResolveAll(t *testing.T) {
	t.Setenv("LAYOUTRAG_TEST_A", "a")
	r := NewResolver(EnvProvider{})

	x, y := "env:LAYOUTRAG_TEST_A", "literal"
	if err := r.ResolveAll(context.Background(), &x, &y); err != nil {
		t.Fatal(err)
	}
	if x != "a" || y != "literal" {
		t.Fatalf("got %q %q", x, y)
	}

	z := "env:LAYOUTRAG_TEST_MISSING_Z"
	if err := r.ResolveAll(context.Background(), &z); err == nil {
		t.Fatal("expected error for unresolvable reference")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "")
	r := FromEnv()
	if !r.IsReference("env:X") || !r.IsReference("file:/x") {
		t.Fatal("env and file providers should be registered")
	}
	if r.IsReference("vault:a#b") {
		t.Fatal("vault should not be registered without VAULT_ADDR")
	}

	t.Setenv("VAULT_ADDR", "http://vault:8200")
	t.Setenv("VAULT_TOKEN", "t")
	if !FromEnv().IsReference("vault:a#b") {
		t.Fatal("vault should be registered")
	}
}
