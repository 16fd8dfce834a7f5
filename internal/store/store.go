// Package store defines the evidence store gateway: persistence of
// documents, pages and chunks, and vector similarity search over chunks.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
)

// ErrChunkNotFound is returned by GetChunk for unknown ids.
var ErrChunkNotFound = errors.New("chunk not found")

// SearchParams drives a similarity search. K is the number of nearest
// neighbours requested from the index; Family restricts matches to chunks
// of documents in that family.
type SearchParams struct {
	Vector []float32
	K      int
	Family string
	Limit  int
}

// Gateway persists evidence and answers similarity searches.
type Gateway interface {
	// EnsureSchema creates constraints and indexes. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error
	// Upsert writes a document, its pages and chunks atomically. Writing
	// the same ids again overwrites scalar properties and never
	// duplicates entities or relationships.
	Upsert(ctx context.Context, doc evidence.Document, pages []evidence.Page, chunks []evidence.Chunk) error
	// SimilaritySearch returns up to K matches, best first.
	SimilaritySearch(ctx context.Context, p SearchParams) ([]evidence.QueryResult, error)
	CountChunks(ctx context.Context) (int64, error)
	// GetChunk returns one chunk with its provenance and a zero score.
	GetChunk(ctx context.Context, id string) (*evidence.QueryResult, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// FamilyFilter normalizes a family for filtering: empty and the default
// family mean no filter and yield "".
func FamilyFilter(family string) string {
	family = strings.TrimSpace(family)
	if family == "" || family == evidence.DefaultFamily {
		return ""
	}
	return family
}

// PageIndex maps page numbers to pages, adding a default page for any
// chunk page that is missing so every chunk can be linked.
func PageIndex(docID string, pages []evidence.Page, chunks []evidence.Chunk) map[int]evidence.Page {
	idx := make(map[int]evidence.Page, len(pages))
	for _, p := range pages {
		p.DocID = docID
		idx[p.PageNum] = p
	}
	for _, c := range chunks {
		if _, ok := idx[c.PageNum]; !ok {
			idx[c.PageNum] = evidence.DefaultPage(docID, c.PageNum)
		}
	}
	return idx
}
