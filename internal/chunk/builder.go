package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumozai/layout-aware-rag-demo/internal/embedding"
	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
	"github.com/lumozai/layout-aware-rag-demo/internal/parser"
)

const (
	DefaultBatchSize   = 32
	DefaultConcurrency = 4
)

// Options tunes segmentation and embedding.
type Options struct {
	MaxChars    int
	BatchSize   int
	Concurrency int
}

// Builder produces the chunks of a document.
type Builder struct {
	embedder    embedding.Embedder
	segmenter   Segmenter
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// NewBuilder creates a builder embedding through e.
func NewBuilder(e embedding.Embedder, opts Options, logger *slog.Logger) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		embedder:    e,
		segmenter:   Segmenter{MaxChars: opts.MaxChars},
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
}

// Build segments doc, attaches geometry and identity, and embeds every
// chunk. Any embedding failure fails the whole document so an upsert never
// sees a partially embedded chunk set.
func (b *Builder) Build(ctx context.Context, doc *parser.Document) ([]evidence.Chunk, error) {
	chunks := Assemble(doc, b.segmenter.Segment(doc))
	if len(chunks) == 0 {
		return chunks, nil
	}
	if err := b.embed(ctx, chunks); err != nil {
		return nil, err
	}
	b.logger.DebugContext(ctx, "built chunks", "title", doc.Title(), "chunks", len(chunks))
	return chunks, nil
}

// Assemble turns spans into chunks without embeddings. Boxes from every
// provenance record are merged; the page is the last one seen; spans
// without provenance land on page 1 with a zero box; spans whose trimmed
// text is empty are dropped.
func Assemble(doc *parser.Document, spans []Span) []evidence.Chunk {
	chunks := make([]evidence.Chunk, 0, len(spans))
	for _, s := range spans {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			continue
		}

		var boxes []evidence.BBox
		page := 0
		for _, it := range s.Items {
			for _, p := range it.Prov {
				boxes = append(boxes, p.EvidenceBBox(doc.PageHeight(p.PageNo)))
				page = p.PageNo
			}
		}
		bbox, ok := evidence.MergeBoxes(boxes)
		if !ok || page <= 0 {
			page, bbox = 1, evidence.BBox{}
		}

		headings := s.Headings
		if headings == nil {
			headings = []string{}
		}
		chunks = append(chunks, evidence.Chunk{
			ID:       evidence.ChunkID(page, text),
			Text:     text,
			PageNum:  page,
			BBox:     bbox,
			Headings: headings,
		})
	}
	return chunks
}

func (b *Builder) embed(ctx context.Context, chunks []evidence.Chunk) error {
	dims := b.embedder.Dimensions()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for start := 0; start < len(chunks); start += b.batchSize {
		end := min(start+b.batchSize, len(chunks))
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}

			spanCtx, span := observability.StartEmbedSpan(gctx, b.embedder.Name(), len(texts))
			defer span.End()

			start := time.Now()
			vectors, err := b.embedder.Embed(spanCtx, texts)
			observability.Metrics().RecordEmbed(time.Since(start), err)
			if err == nil && len(vectors) != len(texts) {
				err = fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
			}
			if err == nil {
				err = embedding.CheckDimensions(vectors, dims)
			}
			if err != nil {
				observability.RecordError(span, err)
				return err
			}
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			return evidence.ConfigError("embed chunks", err)
		}
		return evidence.UpstreamError("embed chunks", err)
	}
	return nil
}
