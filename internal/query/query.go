// Package query answers questions with cited evidence.
package query

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/lumozai/layout-aware-rag-demo/internal/citation"
	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
	"github.com/lumozai/layout-aware-rag-demo/internal/retrieval"
)

// Request is a question. DocType is the document family to search;
// "general" or empty searches everything.
type Request struct {
	Query   string `json:"query"`
	DocType string `json:"doc_type"`
	K       int    `json:"k"`
	Limit   int    `json:"limit"`
}

// Response carries the answer, its linkified rendering, every retrieved
// chunk and the chunks the answer cites.
type Response struct {
	Answer      string                         `json:"answer"`
	AnswerHTML  string                         `json:"answer_html"`
	Chunks      []evidence.QueryResult         `json:"chunks"`
	CitedChunks map[string]evidence.CitedChunk `json:"cited_chunks"`
}

// Retriever ranks evidence for a question.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]evidence.QueryResult, error)
}

// Service answers questions.
type Service struct {
	retriever   Retriever
	synthesizer citation.Synthesizer
	logger      *slog.Logger
	metrics     *observability.RAGMetrics
}

// NewService wires a query service. A nil synthesizer selects the keyword
// synthesizer.
func NewService(r Retriever, s citation.Synthesizer, logger *slog.Logger) *Service {
	if s == nil {
		s = citation.KeywordSynthesizer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: r, synthesizer: s, logger: logger, metrics: observability.Metrics()}
}

// Answer retrieves, synthesizes, and resolves citations. No evidence is
// not an error: the answer says so and both collections are empty.
func (s *Service) Answer(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	k, limit := req.K, req.Limit
	if k <= 0 {
		k = retrieval.DefaultK
	}
	if limit <= 0 {
		limit = retrieval.DefaultLimit
	}

	ctx, span := observability.StartQuerySpan(ctx, k, limit, req.DocType)
	defer span.End()

	resp, err := s.answer(ctx, req, k, limit)
	duration := time.Since(start)
	if err != nil {
		observability.RecordError(span, err)
		s.metrics.RecordQuery(duration, 0, 0, err)
		observability.Audit().LogQueryError(ctx, evidence.KindOf(err).String(), err)
		return nil, err
	}

	observability.RecordQueryResult(span, len(resp.Chunks), len(resp.CitedChunks))
	s.metrics.RecordQuery(duration, len(resp.Chunks), len(resp.CitedChunks), nil)
	observability.Audit().LogQuery(ctx, utf8.RuneCountInString(req.Query), len(resp.Chunks), len(resp.CitedChunks), req.DocType, duration)
	s.logger.InfoContext(ctx, "query answered",
		"hits", len(resp.Chunks), "cited", len(resp.CitedChunks), "answer_len", len(resp.Answer), "duration", duration)
	return resp, nil
}

func (s *Service) answer(ctx context.Context, req Request, k, limit int) (*Response, error) {
	results, err := s.retriever.Retrieve(ctx, retrieval.Request{
		Query:  req.Query,
		K:      k,
		Family: req.DocType,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []evidence.QueryResult{}
	}
	if len(results) == 0 {
		s.logger.WarnContext(ctx, "no evidence retrieved")
	}
	for i, r := range results[:min(3, len(results))] {
		s.logger.DebugContext(ctx, "top result",
			"rank", i+1, "score", r.Score, "chunk_id", r.Chunk.ID, "preview", preview(r.Chunk.Text, 100))
	}

	answer, err := s.synthesizer.Synthesize(ctx, req.Query, results)
	if err != nil {
		return nil, evidence.UpstreamError("synthesize", err)
	}
	cited := citation.ExtractCited(answer, results)

	return &Response{
		Answer:      answer,
		AnswerHTML:  citation.Linkify(answer, cited),
		Chunks:      results,
		CitedChunks: cited,
	}, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
