package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockEmbedder returns queued errors first, then fixed-length vectors.
type mockEmbedder struct {
	mu     sync.Mutex
	dims   int
	errors []error
	calls  int
	texts  [][]string
}

func (m *mockEmbedder) Name() string    { return "mock" }
func (m *mockEmbedder) Dimensions() int { return m.dims }

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.texts = append(m.texts, texts)
	if len(m.errors) > 0 {
		err := m.errors[0]
		m.errors = m.errors[1:]
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, m.dims)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func TestCheckDimensions(t *testing.T) {
	if err := CheckDimensions([][]float32{{1, 2, 3}, {4, 5, 6}}, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := CheckDimensions([][]float32{{1, 2, 3}, {4, 5}}, 3)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "vector 1") {
		t.Errorf("error should name the offending vector: %v", err)
	}
}

func TestHashDeterministic(t *testing.T) {
	h := NewHash(64)
	a, _ := h.Embed(context.Background(), []string{"Handicap means a physical impairment"})
	b, _ := h.Embed(context.Background(), []string{"Handicap means a physical impairment"})
	if len(a[0]) != 64 {
		t.Fatalf("expected 64 dims, got %d", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("not deterministic at %d", i)
		}
	}
}

func TestHashNormalized(t *testing.T) {
	vs, _ := NewHash(384).Embed(context.Background(), []string{"dwelling means any building", ""})
	var sum float64
	for _, x := range vs[0] {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("expected unit norm, got %f", sum)
	}
	for _, x := range vs[1] {
		if x != 0 {
			t.Fatal("empty text should embed to the zero vector")
		}
	}
}

func TestHashSimilarity(t *testing.T) {
	h := NewHash(384)
	vs, _ := h.Embed(context.Background(), []string{
		"what does handicap mean",
		"handicap means a physical or mental impairment",
		"the dwelling was sold in spring",
	})
	related := Cosine(vs[0], vs[1])
	unrelated := Cosine(vs[0], vs[2])
	if related <= unrelated {
		t.Errorf("expected related (%f) > unrelated (%f)", related, unrelated)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Handicap, (means) 42 things!")
	want := []string{"handicap", "means", "42", "things"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func fastRetry(max int) *RetryConfig {
	return &RetryConfig{MaxRetries: max, RetryDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Timeout: time.Second}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	inner := &mockEmbedder{dims: 4}
	r := NewRetry(inner, fastRetry(3), nil)
	vs, err := r.Embed(context.Background(), []string{"a", "bb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vs) != 2 || inner.calls != 1 {
		t.Errorf("got %d vectors after %d calls", len(vs), inner.calls)
	}
}

func TestRetry_RetriesOnRetryableError(t *testing.T) {
	inner := &mockEmbedder{dims: 4, errors: []error{
		errors.New("500 Internal Server Error"),
		errors.New("503 Service Unavailable"),
	}}
	r := NewRetry(inner, fastRetry(3), nil)
	if _, err := r.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", inner.calls)
	}
}

func TestRetry_FailsNonRetryableError(t *testing.T) {
	inner := &mockEmbedder{dims: 4, errors: []error{errors.New("401 Unauthorized")}}
	r := NewRetry(inner, fastRetry(3), nil)
	_, err := r.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "non-retryable") {
		t.Errorf("expected non-retryable error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	inner := &mockEmbedder{dims: 4, errors: []error{
		errors.New("503"), errors.New("503"), errors.New("503"), errors.New("503"),
	}}
	r := NewRetry(inner, fastRetry(2), nil)
	_, err := r.Embed(context.Background(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "max retries (2) exceeded") {
		t.Fatalf("expected max retries error, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	inner := &mockEmbedder{dims: 4, errors: []error{errors.New("503")}}
	r := NewRetry(inner, &RetryConfig{MaxRetries: 5, RetryDelay: time.Second, MaxDelay: time.Second, Timeout: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Embed(ctx, []string{"a"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{ErrDimensionMismatch, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("502 Bad Gateway"), true},
		{errors.New("400 Bad Request"), false},
		{errors.New("404 model not found"), false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("something odd"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRateLimit_Unlimited(t *testing.T) {
	inner := &mockEmbedder{dims: 2}
	e := WithRateLimit(inner, &RateLimitConfig{})
	if e != Embedder(inner) {
		t.Fatal("unlimited config should not wrap")
	}
}

func TestRateLimit_BlocksPastBurst(t *testing.T) {
	inner := &mockEmbedder{dims: 2}
	rl := NewRateLimit(inner, &RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})

	if _, err := rl.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := rl.Embed(ctx, []string{"b"}); err == nil {
		t.Fatal("second call should wait past the deadline")
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls)
	}
}

type blockingEmbedder struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (b *blockingEmbedder) Name() string    { return "blocking" }
func (b *blockingEmbedder) Dimensions() int { return 1 }
func (b *blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		m := b.maxSeen.Load()
		if n <= m || b.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return [][]float32{{1}}, nil
}

func TestPoolBoundsConcurrency(t *testing.T) {
	inner := &blockingEmbedder{}
	p := NewPool(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Embed(context.Background(), []string{"x"})
		}()
	}
	wg.Wait()
	if got := inner.maxSeen.Load(); got > 2 {
		t.Errorf("saw %d concurrent calls, pool size is 2", got)
	}
	if p.Size() != 2 {
		t.Errorf("Size() = %d", p.Size())
	}
}

type mapKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
	ttls    []time.Duration
}

func (m *mapKV) MGet(_ context.Context, keys []string) ([][]byte, error) {
	if m.failGet {
		return nil, errors.New("redis down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = m.data[k]
	}
	return out, nil
}

func (m *mapKV) SetMany(_ context.Context, entries map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		m.data[k] = v
	}
	m.ttls = append(m.ttls, ttl)
	return nil
}

func TestCache_HitsAvoidInnerCalls(t *testing.T) {
	inner := &mockEmbedder{dims: 3}
	kv := &mapKV{data: map[string][]byte{}}
	c := NewCache(inner, kv, time.Hour, nil)

	first, err := c.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Embed(context.Background(), []string{"beta", "gamma", "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 inner calls, got %d", inner.calls)
	}
	if got := inner.texts[1]; len(got) != 1 || got[0] != "gamma" {
		t.Errorf("second call should only embed the miss, got %v", got)
	}
	if second[0][0] != first[1][0] || second[2][0] != first[0][0] {
		t.Error("cached vectors returned in the wrong order")
	}
	if kv.ttls[0] != time.Hour {
		t.Errorf("ttl = %v", kv.ttls[0])
	}
}

func TestCache_ReadFailureFallsThrough(t *testing.T) {
	inner := &mockEmbedder{dims: 3}
	c := NewCache(inner, &mapKV{data: map[string][]byte{}, failGet: true}, time.Minute, nil)
	vs, err := c.Embed(context.Background(), []string{"alpha"})
	if err != nil || len(vs) != 1 {
		t.Fatalf("expected fallback to inner, got %v %v", vs, err)
	}
}

func TestCache_KeyIncludesProviderAndDims(t *testing.T) {
	a := NewCache(&mockEmbedder{dims: 3}, &mapKV{}, 0, nil)
	b := NewCache(&mockEmbedder{dims: 4}, &mapKV{}, 0, nil)
	if a.Key("x") == b.Key("x") {
		t.Error("keys must differ across dimensionalities")
	}
	if !strings.HasPrefix(a.Key("x"), "emb:mock:3:") {
		t.Errorf("unexpected key %q", a.Key("x"))
	}
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got, err := decodeVector(encodeVector(v))
	if err != nil {
		t.Fatal(err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("index %d: %v != %v", i, got[i], v[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated vector")
	}
}

func TestNewFactory(t *testing.T) {
	f := NewFactory()
	if len(f.Names()) != 0 {
		t.Fatalf("expected empty factory, got %v", f.Names())
	}
}

func TestDefaultFactory(t *testing.T) {
	f := NewDefaultFactory()
	want := []string{"custom", "hash", "ollama", "openai", "tei"}
	if strings.Join(f.Names(), ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v", f.Names())
	}

	e, err := f.Create(Config{Dims: 16})
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "hash" || e.Dimensions() != 16 {
		t.Errorf("empty provider should give hash/16, got %s/%d", e.Name(), e.Dimensions())
	}

	e, err = f.Create(Config{Provider: "ollama", Model: "nomic-embed-text", Dims: 768, MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*Retry); !ok {
		t.Errorf("expected retry wrapper, got %T", e)
	}
	if e.Name() != "ollama" {
		t.Errorf("Name() = %q", e.Name())
	}
}

func TestFactoryCreate_Errors(t *testing.T) {
	f := NewDefaultFactory()
	if _, err := f.Create(Config{Provider: "word2vec", Dims: 10}); err == nil || !strings.Contains(err.Error(), "unknown embedding provider") {
		t.Errorf("expected unknown provider error, got %v", err)
	}
	if _, err := f.Create(Config{Provider: "hash", Dims: 0}); err == nil {
		t.Error("expected error for zero dims")
	}
	if _, err := f.Create(Config{Provider: "custom", Dims: 10}); err == nil {
		t.Error("custom provider without base_url should fail")
	}
}

func TestOpenAIEmbed(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		// out of order on purpose
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[
			{"object":"embedding","index":1,"embedding":[0.5,0.5]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1/", Model: "m", Dims: 2, SendDimensions: true})
	vs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vs[0][0] != 1 || vs[1][0] != 0.5 {
		t.Errorf("vectors not placed by index: %v", vs)
	}
	if gotBody["model"] != "m" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if dims, ok := gotBody["dimensions"].(float64); !ok || dims != 2 {
		t.Errorf("dimensions = %v", gotBody["dimensions"])
	}
}

func TestOpenAIEmbed_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1/", Dims: 2})
	_, err := e.Embed(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if statusCode(err) != http.StatusServiceUnavailable {
		t.Errorf("statusCode = %d", statusCode(err))
	}
	if !IsRetryable(err) {
		t.Error("503 should be retryable")
	}
}

func TestEmbedOne(t *testing.T) {
	v, err := EmbedOne(context.Background(), NewHash(8), "hello")
	if err != nil || len(v) != 8 {
		t.Fatalf("EmbedOne = %v, %v", v, err)
	}
}
