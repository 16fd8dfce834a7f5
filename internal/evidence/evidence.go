// Package evidence holds the domain model shared by ingestion and query:
// documents, pages and the citable chunks that locate text on a page.
package evidence

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultFamily is the family assigned when none is given. It also acts
	// as the "no filter" sentinel at query time.
	DefaultFamily = "general"

	// DefaultPageWidth and DefaultPageHeight are US Letter in points.
	DefaultPageWidth  = 612.0
	DefaultPageHeight = 792.0

	// IDPrefixRunes is how much of a chunk's trimmed text feeds its identity.
	IDPrefixRunes = 160
)

// Document is one ingested source file.
type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	SourceURI string `json:"source_uri"`
	Family    string `json:"family"`
}

// Page is a physical page of a Document. (DocID, PageNum) is unique.
type Page struct {
	DocID   string  `json:"docId"`
	PageNum int     `json:"page_num"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// DefaultPage returns a page with US Letter geometry.
func DefaultPage(docID string, pageNum int) Page {
	return Page{DocID: docID, PageNum: pageNum, Width: DefaultPageWidth, Height: DefaultPageHeight}
}

// Chunk is the atomic evidence unit.
type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	PageNum   int       `json:"page_num"`
	BBox      BBox      `json:"bbox"`
	Headings  []string  `json:"headings"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// ChunkID derives a chunk's identity from its page and the first
// IDPrefixRunes characters of its trimmed text. Equal inputs collide on
// purpose so re-ingestion overwrites instead of duplicating.
func ChunkID(pageNum int, text string) string {
	text = strings.TrimSpace(text)
	sum := sha1.Sum([]byte(strconv.Itoa(pageNum) + ":" + prefixRunes(text, IDPrefixRunes)))
	return hex.EncodeToString(sum[:])
}

func prefixRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// ChunkRef is the projection of a Chunk returned by searches.
type ChunkRef struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	BBox     BBox     `json:"bbox"`
	PageNum  int      `json:"page_num"`
	Headings []string `json:"headings"`
}

// DocRef is the projection of a Document returned by searches.
type DocRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// QueryResult is one scored match with its provenance. Scores are whatever
// the store reports; only their order is meaningful.
type QueryResult struct {
	Chunk ChunkRef `json:"chunk"`
	Doc   DocRef   `json:"doc"`
	Page  int      `json:"page"`
	Score float64  `json:"score"`
}

// CitedChunk is the evidence payload behind a citation marker.
type CitedChunk struct {
	DocID string `json:"docId"`
	Page  int    `json:"page"`
	BBox  BBox   `json:"bbox"`
	Text  string `json:"text"`
}

// Cite builds the evidence payload for a result.
func (r QueryResult) Cite() CitedChunk {
	page := r.Chunk.PageNum
	if page == 0 {
		page = r.Page
	}
	return CitedChunk{DocID: r.Doc.ID, Page: page, BBox: r.Chunk.BBox, Text: r.Chunk.Text}
}
