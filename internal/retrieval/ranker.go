// Package retrieval ranks stored chunks against a question.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/lumozai/layout-aware-rag-demo/internal/embedding"
	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/store"
)

const (
	DefaultK     = 10
	DefaultLimit = 5
)

// ErrEmptyQuery is returned for blank questions.
var ErrEmptyQuery = errors.New("query must not be empty")

// Request is one retrieval. K is the neighbour count asked of the index,
// Limit caps what is returned; zero or negative values take the defaults.
type Request struct {
	Query  string
	K      int
	Family string
	Limit  int
}

// Ranker embeds questions and ranks chunks by similarity.
type Ranker struct {
	embedder embedding.Embedder
	gateway  store.Gateway
	logger   *slog.Logger
}

func NewRanker(e embedding.Embedder, g store.Gateway, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{embedder: e, gateway: g, logger: logger}
}

// Retrieve returns at most min(K, Limit) results ordered by descending
// score. An empty index or a store failure yields no results rather than
// an error; embedding failures are errors.
func (r *Ranker) Retrieve(ctx context.Context, req Request) ([]evidence.QueryResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, evidence.InputError("retrieve", ErrEmptyQuery)
	}
	if req.K <= 0 {
		req.K = DefaultK
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	vec, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err == nil {
		err = embedding.CheckDimensions([][]float32{vec}, r.embedder.Dimensions())
	}
	if err != nil {
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			return nil, evidence.ConfigError("embed query", err)
		}
		return nil, evidence.UpstreamError("embed query", err)
	}

	n, err := r.gateway.CountChunks(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "chunk count failed", "error", err)
		return []evidence.QueryResult{}, nil
	}
	r.logger.DebugContext(ctx, "evidence store status", "chunks", n)
	if n == 0 {
		r.logger.WarnContext(ctx, "no chunks indexed")
		return []evidence.QueryResult{}, nil
	}

	results, err := r.gateway.SimilaritySearch(ctx, store.SearchParams{
		Vector: vec,
		K:      req.K,
		Family: req.Family,
		Limit:  req.Limit,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "similarity search failed", "error", err)
		return []evidence.QueryResult{}, nil
	}

	results = Rank(results, min(req.K, req.Limit))
	for i, res := range results {
		r.logger.DebugContext(ctx, "retrieved",
			"rank", i+1, "chunk_id", res.Chunk.ID, "doc_id", res.Doc.ID, "page", res.Page, "score", res.Score)
	}
	return results, nil
}

// Rank stable-sorts results by descending score and keeps the first n.
func Rank(results []evidence.QueryResult, n int) []evidence.QueryResult {
	out := make([]evidence.QueryResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
