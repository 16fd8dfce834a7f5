package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the slice of a key-value store the cache needs.
type KV interface {
	// MGet returns one entry per key; misses are nil.
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
}

// RedisKV implements KV on go-redis.
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV wraps an existing client.
func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

// DialRedis connects to a single redis node and pings it.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisKV) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (r *RedisKV) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, k, v, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Cache memoizes vectors keyed by provider, dimensionality and a hash of
// the text. Cache failures degrade to a direct call, never to an error.
type Cache struct {
	inner  Embedder
	kv     KV
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewCache wraps inner with a KV-backed cache.
func NewCache(inner Embedder, kv KV, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		inner:  inner,
		kv:     kv,
		ttl:    ttl,
		prefix: fmt.Sprintf("emb:%s:%d:", inner.Name(), inner.Dimensions()),
		logger: logger,
	}
}

func (c *Cache) Name() string    { return c.inner.Name() }
func (c *Cache) Dimensions() int { return c.inner.Dimensions() }

// Key returns the cache key for text.
func (c *Cache) Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.Key(t)
	}

	out := make([][]float32, len(texts))
	cached, err := c.kv.MGet(ctx, keys)
	if err != nil {
		c.logger.WarnContext(ctx, "embedding cache read failed", "error", err)
		cached = nil
	}

	var missIdx []int
	var missTexts []string
	for i := range texts {
		if i < len(cached) && cached[i] != nil {
			if v, err := decodeVector(cached[i]); err == nil && len(v) == c.inner.Dimensions() {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(fresh), len(missTexts))
	}

	entries := make(map[string][]byte, len(fresh))
	for j, i := range missIdx {
		out[i] = fresh[j]
		entries[keys[i]] = encodeVector(fresh[j])
	}
	if err := c.kv.SetMany(ctx, entries, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "embedding cache write failed", "error", err)
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("corrupt cached vector")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
