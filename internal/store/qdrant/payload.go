package qdrant

import (
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/store"
)

// pointNamespace seeds the name-based UUIDs used as point ids. Qdrant only
// accepts UUIDs or integers, chunk ids are sha1 hex.
var pointNamespace = uuid.MustParse("6f1c3a52-8d0e-4b5f-9a57-3c2f4e1d7b90")

// PointID maps a chunk id to its point id. The mapping is stable, so
// re-ingestion overwrites points.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Points builds one point per chunk. Pages missing from pages get default
// geometry.
func Points(doc evidence.Document, pages []evidence.Page, chunks []evidence.Chunk) []*pb.PointStruct {
	idx := store.PageIndex(doc.ID, pages, chunks)
	out := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		page := idx[c.PageNum]
		payload := documentPayload(doc)
		payload["chunk_id"] = stringValue(c.ID)
		payload["text"] = stringValue(c.Text)
		payload["page_num"] = intValue(c.PageNum)
		payload["page_width"] = doubleValue(page.Width)
		payload["page_height"] = doubleValue(page.Height)
		payload["bbox"] = listValue(doubles(c.BBox.Float64s()))
		payload["headings"] = listValue(stringsValues(c.Headings))

		out[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(c.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: c.Embedding}}},
			Payload: payload,
		}
	}
	return out
}

func documentPayload(doc evidence.Document) map[string]*pb.Value {
	family := doc.Family
	if family == "" {
		family = evidence.DefaultFamily
	}
	return map[string]*pb.Value{
		"doc_id":     stringValue(doc.ID),
		"title":      stringValue(doc.Title),
		"source_uri": stringValue(doc.SourceURI),
		"family":     stringValue(family),
	}
}

// ResultFromPayload decodes a point payload into a result.
func ResultFromPayload(payload map[string]*pb.Value, score float64) evidence.QueryResult {
	page := int(payload["page_num"].GetIntegerValue())
	var bbox []float64
	for _, v := range payload["bbox"].GetListValue().GetValues() {
		bbox = append(bbox, v.GetDoubleValue())
	}
	headings := []string{}
	for _, v := range payload["headings"].GetListValue().GetValues() {
		headings = append(headings, v.GetStringValue())
	}
	return evidence.QueryResult{
		Chunk: evidence.ChunkRef{
			ID:       payload["chunk_id"].GetStringValue(),
			Text:     payload["text"].GetStringValue(),
			BBox:     evidence.BBoxFromSlice(bbox),
			PageNum:  page,
			Headings: headings,
		},
		Doc: evidence.DocRef{
			ID:    payload["doc_id"].GetStringValue(),
			Title: payload["title"].GetStringValue(),
		},
		Page:  page,
		Score: score,
	}
}

func matchKeyword(key, value string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   key,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
		}},
	}}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

func doubleValue(f float64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
}

func listValue(values []*pb.Value) *pb.Value {
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}

func doubles(fs []float64) []*pb.Value {
	out := make([]*pb.Value, len(fs))
	for i, f := range fs {
		out[i] = doubleValue(f)
	}
	return out
}

func stringsValues(ss []string) []*pb.Value {
	out := make([]*pb.Value, len(ss))
	for i, s := range ss {
		out[i] = stringValue(s)
	}
	return out
}
