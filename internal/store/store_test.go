package store

import (
	"testing"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
)

func TestFamilyFilter(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"general":   "",
		"  ":        "",
		"housing":   "housing",
		" housing ": "housing",
	}
	for in, want := range tests {
		if got := FamilyFilter(in); got != want {
			t.Errorf("FamilyFilter(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPageIndexAddsMissingPages(t *testing.T) {
	pages := []evidence.Page{{DocID: "other", PageNum: 1, Width: 500, Height: 700}}
	chunks := []evidence.Chunk{{PageNum: 1}, {PageNum: 4}, {PageNum: 4}}

	idx := PageIndex("d1", pages, chunks)
	if len(idx) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(idx))
	}
	if idx[1].DocID != "d1" || idx[1].Width != 500 {
		t.Fatalf("page 1 should keep its geometry under the new doc id, got %+v", idx[1])
	}
	if idx[4] != evidence.DefaultPage("d1", 4) {
		t.Fatalf("page 4 should be a default page, got %+v", idx[4])
	}
}
