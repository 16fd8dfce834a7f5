// Package memory is an in-process evidence store with exact cosine
// search. It backs `--store memory` for local runs and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lumozai/layout-aware-rag-demo/internal/embedding"
	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/store"
)

type pageKey struct {
	docID string
	num   int
}

// Gateway keeps every entity in maps keyed by its unique id.
type Gateway struct {
	mu     sync.RWMutex
	docs   map[string]evidence.Document
	pages  map[pageKey]evidence.Page
	chunks map[string]evidence.Chunk
	// chunkPage links a chunk to its page.
	chunkPage map[string]pageKey
	order     []string
}

func New() *Gateway {
	return &Gateway{
		docs:      make(map[string]evidence.Document),
		pages:     make(map[pageKey]evidence.Page),
		chunks:    make(map[string]evidence.Chunk),
		chunkPage: make(map[string]pageKey),
	}
}

func (g *Gateway) EnsureSchema(context.Context) error { return nil }

func (g *Gateway) Upsert(_ context.Context, doc evidence.Document, pages []evidence.Page, chunks []evidence.Chunk) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if doc.Family == "" {
		doc.Family = evidence.DefaultFamily
	}
	g.docs[doc.ID] = doc
	for n, p := range store.PageIndex(doc.ID, pages, chunks) {
		g.pages[pageKey{doc.ID, n}] = p
	}
	for _, c := range chunks {
		if _, ok := g.chunks[c.ID]; !ok {
			g.order = append(g.order, c.ID)
		}
		g.chunks[c.ID] = c
		g.chunkPage[c.ID] = pageKey{doc.ID, c.PageNum}
	}
	return nil
}

func (g *Gateway) SimilaritySearch(_ context.Context, p store.SearchParams) ([]evidence.QueryResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	family := store.FamilyFilter(p.Family)
	var results []evidence.QueryResult
	for _, id := range g.order {
		r := g.result(id)
		if family != "" && g.docs[r.Doc.ID].Family != family {
			continue
		}
		r.Score = embedding.Cosine(p.Vector, g.chunks[id].Embedding)
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if p.K >= 0 && len(results) > p.K {
		results = results[:p.K]
	}
	return results, nil
}

func (g *Gateway) result(id string) evidence.QueryResult {
	c := g.chunks[id]
	key := g.chunkPage[id]
	return evidence.QueryResult{
		Chunk: evidence.ChunkRef{ID: c.ID, Text: c.Text, BBox: c.BBox, PageNum: c.PageNum, Headings: c.Headings},
		Doc:   evidence.DocRef{ID: key.docID, Title: g.docs[key.docID].Title},
		Page:  g.pages[key].PageNum,
	}
}

func (g *Gateway) CountChunks(context.Context) (int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return int64(len(g.chunks)), nil
}

func (g *Gateway) GetChunk(_ context.Context, id string) (*evidence.QueryResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.chunks[id]; !ok {
		return nil, evidence.NotFoundError("get chunk "+id, store.ErrChunkNotFound)
	}
	r := g.result(id)
	return &r, nil
}

// Counts reports how many documents, pages and chunks are stored.
func (g *Gateway) Counts() (docs, pages, chunks int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.docs), len(g.pages), len(g.chunks)
}

func (g *Gateway) Ping(context.Context) error  { return nil }
func (g *Gateway) Close(context.Context) error { return nil }

var _ store.Gateway = (*Gateway)(nil)
