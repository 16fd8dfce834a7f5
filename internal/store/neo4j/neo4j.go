// Package neo4j implements the evidence store on Neo4j:
// (:Chunk)-[:IN_PAGE]->(:Page)-[:OF]->(:Document), with a vector index on
// chunk embeddings.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
	"github.com/lumozai/layout-aware-rag-demo/internal/store"
)

// VectorIndex is the name of the chunk embedding index.
const VectorIndex = "chunk_vec"

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	Dims     int
}

// Gateway implements store.Gateway using Neo4j.
type Gateway struct {
	driver   neo4j.DriverWithContext
	database string
	dims     int
	logger   *slog.Logger
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Gateway, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{driver: driver, database: cfg.Database, dims: cfg.Dims, logger: logger}, nil
}

func (g *Gateway) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: g.database, AccessMode: mode})
}

var constraintStatements = []string{
	"CREATE CONSTRAINT doc_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE",
	"CREATE CONSTRAINT page_key IF NOT EXISTS FOR (p:Page) REQUIRE (p.docId, p.page_num) IS UNIQUE",
	"CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE",
}

func vectorIndexStatement(dims int) string {
	return fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (c:Chunk) ON (c.embedding) "+
		"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
		VectorIndex, dims)
}

// EnsureSchema creates the uniqueness constraints and the vector index.
// A vector index failure (e.g. a server without vector support) is logged
// and swallowed.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	ctx, span := observability.StartStoreSpan(ctx, "neo4j", "ensure_schema")
	defer span.End()

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range constraintStatements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			observability.RecordError(span, err)
			return fmt.Errorf("create constraint: %w", err)
		}
	}
	if _, err := session.Run(ctx, vectorIndexStatement(g.dims), nil); err != nil {
		g.logger.WarnContext(ctx, "vector index creation failed", "index", VectorIndex, "dims", g.dims, "error", err)
	}
	return nil
}

const (
	upsertDocument = `MERGE (d:Document {id: $id})
SET d.title = $title, d.source_uri = $source_uri, d.family = $family`

	upsertPages = `UNWIND $pages AS p
MATCH (d:Document {id: $doc_id})
MERGE (pg:Page {docId: $doc_id, page_num: p.page_num})
SET pg.width = p.width, pg.height = p.height
MERGE (pg)-[:OF]->(d)`

	upsertChunks = `UNWIND $chunks AS c
MATCH (pg:Page {docId: $doc_id, page_num: c.page_num})
MERGE (ch:Chunk {id: c.id})
SET ch.text = c.text, ch.page_num = c.page_num, ch.bbox = c.bbox,
    ch.headings = c.headings, ch.embedding = c.embedding
MERGE (ch)-[:IN_PAGE]->(pg)`
)

// UpsertParams renders the parameter maps for the three upsert statements.
// Pages referenced by chunks but absent from pages are added with default
// geometry.
func UpsertParams(doc evidence.Document, pages []evidence.Page, chunks []evidence.Chunk) (docParams, pageParams, chunkParams map[string]any) {
	family := doc.Family
	if family == "" {
		family = evidence.DefaultFamily
	}
	docParams = map[string]any{
		"id":         doc.ID,
		"title":      doc.Title,
		"source_uri": doc.SourceURI,
		"family":     family,
	}

	idx := store.PageIndex(doc.ID, pages, chunks)
	pageRows := make([]any, 0, len(idx))
	for _, n := range sortedPageNums(idx) {
		p := idx[n]
		pageRows = append(pageRows, map[string]any{
			"page_num": int64(p.PageNum),
			"width":    p.Width,
			"height":   p.Height,
		})
	}
	pageParams = map[string]any{"doc_id": doc.ID, "pages": pageRows}

	chunkRows := make([]any, len(chunks))
	for i, c := range chunks {
		headings := c.Headings
		if headings == nil {
			headings = []string{}
		}
		chunkRows[i] = map[string]any{
			"id":        c.ID,
			"text":      c.Text,
			"page_num":  int64(c.PageNum),
			"bbox":      c.BBox.Float64s(),
			"headings":  headings,
			"embedding": float64s(c.Embedding),
		}
	}
	chunkParams = map[string]any{"doc_id": doc.ID, "chunks": chunkRows}
	return docParams, pageParams, chunkParams
}

// Upsert writes the document, pages and chunks in one managed transaction.
func (g *Gateway) Upsert(ctx context.Context, doc evidence.Document, pages []evidence.Page, chunks []evidence.Chunk) error {
	ctx, span := observability.StartStoreSpan(ctx, "neo4j", "upsert")
	defer span.End()

	docParams, pageParams, chunkParams := UpsertParams(doc, pages, chunks)

	session := g.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, upsertDocument, docParams); err != nil {
			return nil, fmt.Errorf("document: %w", err)
		}
		if _, err := tx.Run(ctx, upsertPages, pageParams); err != nil {
			return nil, fmt.Errorf("pages: %w", err)
		}
		if len(chunks) > 0 {
			if _, err := tx.Run(ctx, upsertChunks, chunkParams); err != nil {
				return nil, fmt.Errorf("chunks: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

const resultProjection = `c.id AS id, c.text AS text, c.bbox AS bbox, c.page_num AS page_num,
       c.headings AS headings, d.id AS doc_id, d.title AS title, p.page_num AS page`

// SearchQuery renders the vector search statement and its parameters.
// The family filter is applied to the owning document.
func SearchQuery(p store.SearchParams) (string, map[string]any) {
	params := map[string]any{
		"index":  VectorIndex,
		"k":      int64(p.K),
		"vector": float64s(p.Vector),
	}
	where := ""
	if family := store.FamilyFilter(p.Family); family != "" {
		where = "\nWHERE d.family = $family"
		params["family"] = family
	}
	query := `CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node AS c, score
MATCH (c)-[:IN_PAGE]->(p:Page)-[:OF]->(d:Document)` + where + `
RETURN ` + resultProjection + `, score
ORDER BY score DESC`
	return query, params
}

func (g *Gateway) SimilaritySearch(ctx context.Context, p store.SearchParams) ([]evidence.QueryResult, error) {
	ctx, span := observability.StartStoreSpan(ctx, "neo4j", "search")
	defer span.End()

	query, params := SearchQuery(p)
	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var results []evidence.QueryResult
		for records.Next(ctx) {
			results = append(results, ResultFromRow(records.Record().AsMap()))
		}
		return results, records.Err()
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return out.([]evidence.QueryResult), nil
}

func (g *Gateway) CountChunks(ctx context.Context) (int64, error) {
	ctx, span := observability.StartStoreSpan(ctx, "neo4j", "count")
	defer span.End()

	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, "MATCH (c:Chunk) RETURN count(c) AS n", nil)
		if err != nil {
			return nil, err
		}
		rec, err := records.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("n")
		return asInt64(n), nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return out.(int64), nil
}

func (g *Gateway) GetChunk(ctx context.Context, id string) (*evidence.QueryResult, error) {
	ctx, span := observability.StartStoreSpan(ctx, "neo4j", "get_chunk")
	defer span.End()

	session := g.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, `MATCH (c:Chunk {id: $id})-[:IN_PAGE]->(p:Page)-[:OF]->(d:Document)
RETURN `+resultProjection+`
LIMIT 1`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if !records.Next(ctx) {
			return nil, records.Err()
		}
		r := ResultFromRow(records.Record().AsMap())
		return &r, nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("get chunk %s: %w", id, err)
	}
	r, _ := out.(*evidence.QueryResult)
	if r == nil {
		return nil, evidence.NotFoundError("get chunk "+id, store.ErrChunkNotFound)
	}
	return r, nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

func (g *Gateway) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

var _ store.Gateway = (*Gateway)(nil)
