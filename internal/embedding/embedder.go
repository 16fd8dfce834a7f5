// Package embedding maps text to fixed-length vectors. Every backend is an
// Embedder; retries, rate limits, caching and pooling are decorators.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder is the interface all embedding backends implement.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the fixed vector length for the lifetime of an index.
	Dimensions() int
	// Name identifies the backend (e.g. "openai", "hash").
	Name() string
}

// ErrDimensionMismatch means the service returned vectors of a different
// length than the index was built for. Changing models requires reindexing.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// CheckDimensions verifies every vector has exactly dims components.
func CheckDimensions(vectors [][]float32, dims int) error {
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, index expects %d", ErrDimensionMismatch, i, len(v), dims)
		}
	}
	return nil
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want 1", len(vectors))
	}
	return vectors[0], nil
}
