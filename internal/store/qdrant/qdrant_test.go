package qdrant

import (
	"testing"

	"github.com/google/uuid"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
)

func TestPointIDStable(t *testing.T) {
	id := evidence.ChunkID(1, "Handicap means")
	a, b := PointID(id), PointID(id)
	if a != b {
		t.Fatalf("point id not stable: %s vs %s", a, b)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("point id is not a uuid: %v", err)
	}
	if PointID(evidence.ChunkID(2, "Handicap means")) == a {
		t.Fatal("different chunks must map to different points")
	}
}

func TestPointsRoundTrip(t *testing.T) {
	doc := evidence.Document{ID: "d1", Title: "Fair Housing", SourceURI: "documents/d1.pdf", Family: "housing"}
	chunks := []evidence.Chunk{{
		ID:        "c1",
		Text:      "Handicap means",
		PageNum:   2,
		BBox:      evidence.BBox{72, 690, 540, 605},
		Headings:  []string{"Definitions"},
		Embedding: []float32{0.1, 0.2},
	}}

	points := Points(doc, nil, chunks)
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	p := points[0]
	if p.Id.GetUuid() != PointID("c1") {
		t.Fatalf("unexpected point id %s", p.Id.GetUuid())
	}
	if p.Payload["family"].GetStringValue() != "housing" {
		t.Fatalf("expected family payload")
	}
	if p.Payload["page_height"].GetDoubleValue() != evidence.DefaultPageHeight {
		t.Fatalf("expected default page height for a missing page")
	}

	r := ResultFromPayload(p.Payload, 0.8)
	if r.Chunk.ID != "c1" || r.Doc.ID != "d1" || r.Doc.Title != "Fair Housing" {
		t.Fatalf("unexpected result %+v", r)
	}
	if r.Chunk.BBox != chunks[0].BBox {
		t.Fatalf("bbox lost: %v", r.Chunk.BBox)
	}
	if r.Page != 2 || r.Chunk.PageNum != 2 || r.Score != 0.8 {
		t.Fatalf("unexpected page or score %+v", r)
	}
	if len(r.Chunk.Headings) != 1 || r.Chunk.Headings[0] != "Definitions" {
		t.Fatalf("unexpected headings %v", r.Chunk.Headings)
	}
}

func TestDocumentPayloadDefaultsFamily(t *testing.T) {
	p := documentPayload(evidence.Document{ID: "d1"})
	if p["family"].GetStringValue() != evidence.DefaultFamily {
		t.Fatalf("expected default family, got %q", p["family"].GetStringValue())
	}
}

func TestMatchKeyword(t *testing.T) {
	f := matchKeyword("family", "tax")
	cond := f.Must[0].GetField()
	if cond.Key != "family" || cond.Match.GetKeyword() != "tax" {
		t.Fatalf("unexpected filter %v", f)
	}
}
