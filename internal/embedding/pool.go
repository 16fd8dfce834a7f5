package embedding

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many embedding calls run at once across the process, so
// a large ingestion cannot starve interactive queries of the model.
type Pool struct {
	inner Embedder
	sem   *semaphore.Weighted
	size  int64
}

// NewPool wraps inner with a capacity of size concurrent calls.
func NewPool(inner Embedder, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{inner: inner, sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

func (p *Pool) Name() string    { return p.inner.Name() }
func (p *Pool) Dimensions() int { return p.inner.Dimensions() }
func (p *Pool) Size() int       { return int(p.size) }

func (p *Pool) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return p.inner.Embed(ctx, texts)
}
