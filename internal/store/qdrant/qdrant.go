// Package qdrant implements the evidence store on a Qdrant collection.
// Qdrant has no relationships, so document and page fields are
// denormalized onto every chunk point.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
	"github.com/lumozai/layout-aware-rag-demo/internal/store"
)

// Config holds connection settings.
type Config struct {
	Host       string
	Port       int
	Collection string
	Dims       int
}

// Gateway implements store.Gateway using Qdrant.
type Gateway struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	health      pb.QdrantClient
	collection  string
	dims        int
	logger      *slog.Logger
}

// New dials Qdrant over gRPC. The connection is lazy; use Ping to check it.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Gateway, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		health:      pb.NewQdrantClient(conn),
		collection:  cfg.Collection,
		dims:        cfg.Dims,
		logger:      logger,
	}, nil
}

var keywordFields = []string{"doc_id", "family"}

// EnsureSchema creates the collection with cosine distance and keyword
// indexes on doc_id and family. Collection or index failures are logged
// and swallowed; only an unreachable server is an error.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	ctx, span := observability.StartStoreSpan(ctx, "qdrant", "ensure_schema")
	defer span.End()

	exists, err := g.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: g.collection})
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("check collection %s: %w", g.collection, err)
	}
	if !exists.GetResult().GetExists() {
		_, err := g.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: g.collection,
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(g.dims), Distance: pb.Distance_Cosine},
			}},
		})
		if err != nil {
			g.logger.WarnContext(ctx, "collection creation failed", "collection", g.collection, "dims", g.dims, "error", err)
			return nil
		}
	}

	wait := true
	for _, field := range keywordFields {
		_, err := g.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: g.collection,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
			Wait:           &wait,
		})
		if err != nil {
			g.logger.WarnContext(ctx, "payload index creation failed", "field", field, "error", err)
		}
	}
	return nil
}

// Upsert writes every chunk as a point and refreshes the document fields
// on points left over from earlier ingestions of the same document.
func (g *Gateway) Upsert(ctx context.Context, doc evidence.Document, pages []evidence.Page, chunks []evidence.Chunk) error {
	ctx, span := observability.StartStoreSpan(ctx, "qdrant", "upsert")
	defer span.End()

	wait := true
	if len(chunks) > 0 {
		_, err := g.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: g.collection,
			Points:         Points(doc, pages, chunks),
			Wait:           &wait,
		})
		if err != nil {
			observability.RecordError(span, err)
			return fmt.Errorf("upsert document %s: %w", doc.ID, err)
		}
	}

	_, err := g.points.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: g.collection,
		Payload:        documentPayload(doc),
		PointsSelector: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{
			Filter: matchKeyword("doc_id", doc.ID),
		}},
		Wait: &wait,
	})
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("refresh document %s: %w", doc.ID, err)
	}
	return nil
}

func (g *Gateway) SimilaritySearch(ctx context.Context, p store.SearchParams) ([]evidence.QueryResult, error) {
	ctx, span := observability.StartStoreSpan(ctx, "qdrant", "search")
	defer span.End()

	req := &pb.SearchPoints{
		CollectionName: g.collection,
		Vector:         p.Vector,
		Limit:          uint64(max(p.K, 0)),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if family := store.FamilyFilter(p.Family); family != "" {
		req.Filter = matchKeyword("family", family)
	}

	resp, err := g.points.Search(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]evidence.QueryResult, len(resp.Result))
	for i, pt := range resp.Result {
		results[i] = ResultFromPayload(pt.Payload, float64(pt.Score))
	}
	return results, nil
}

func (g *Gateway) CountChunks(ctx context.Context) (int64, error) {
	exact := true
	resp, err := g.points.Count(ctx, &pb.CountPoints{CollectionName: g.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

func (g *Gateway) GetChunk(ctx context.Context, id string) (*evidence.QueryResult, error) {
	resp, err := g.points.Get(ctx, &pb.GetPoints{
		CollectionName: g.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", id, err)
	}
	if len(resp.Result) == 0 {
		return nil, evidence.NotFoundError("get chunk "+id, store.ErrChunkNotFound)
	}
	r := ResultFromPayload(resp.Result[0].Payload, 0)
	return &r, nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.health.HealthCheck(ctx, &pb.HealthCheckRequest{})
	return err
}

func (g *Gateway) Close(context.Context) error {
	return g.conn.Close()
}

var _ store.Gateway = (*Gateway)(nil)
