package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a deterministic feature-hashing embedder. It needs no model or
// network, which makes it the default for development and tests. Texts that
// share words land close together under cosine similarity.
type Hash struct {
	dims int
}

// NewHash returns a hashing embedder producing dims-length vectors.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = 384
	}
	return &Hash{dims: dims}
}

func (h *Hash) Name() string    { return "hash" }
func (h *Hash) Dimensions() int { return h.dims }

func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	v := make([]float32, h.dims)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		h.add(v, tok, 1)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalize(v)
	return v
}

func (h *Hash) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// Cosine returns the cosine similarity of a and b, or 0 if either is zero
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
