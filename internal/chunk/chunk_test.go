package chunk

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumozai/layout-aware-rag-demo/internal/embedding"
	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/parser"
)

func loadFixture(t *testing.T) *parser.Document {
	t.Helper()
	data, err := os.ReadFile("../parser/testdata/fair_housing.json")
	require.NoError(t, err)
	doc, err := parser.Decode(data)
	require.NoError(t, err)
	return doc
}

func text(label, s string, page int, box ...float64) parser.Item {
	it := parser.Item{Label: label, Text: s}
	if page > 0 {
		p := parser.Prov{PageNo: page, BBox: parser.ProvBBox{CoordOrigin: parser.OriginBottomLeft}}
		if len(box) == 4 {
			p.BBox.L, p.BBox.T, p.BBox.R, p.BBox.B = box[0], box[1], box[2], box[3]
		}
		it.Prov = []parser.Prov{p}
	}
	return it
}

func headingItem(label, s string, level int) parser.Item {
	return parser.Item{Label: label, Text: s, Level: level}
}

// recordingEmbedder counts calls and can fail or return short vectors.
type recordingEmbedder struct {
	mu      sync.Mutex
	dims    int
	outDims int
	err     error
	batches []int
}

func (r *recordingEmbedder) Name() string    { return "recording" }
func (r *recordingEmbedder) Dimensions() int { return r.dims }

func (r *recordingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.batches = append(r.batches, len(texts))
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	d := r.dims
	if r.outDims > 0 {
		d = r.outDims
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, d)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func TestSegmentFixture(t *testing.T) {
	spans := Segmenter{}.Segment(loadFixture(t))

	require.Len(t, spans, 2)
	assert.Equal(t, []string{"Definitions"}, spans[0].Headings)
	assert.Len(t, spans[0].Items, 3)
	assert.Equal(t, []string{"Dwelling"}, spans[1].Headings)
	assert.Equal(t, "Term | Meaning\nDwelling | Any building occupied as a residence", spans[1].Text())
}

func TestSegmentHeadingAncestry(t *testing.T) {
	doc := &parser.Document{Texts: []parser.Item{
		headingItem(parser.LabelTitle, "Fair Housing Act", 0),
		headingItem(parser.LabelSectionHeader, "Subpart A", 1),
		headingItem(parser.LabelSectionHeader, "Definitions", 2),
		text(parser.LabelText, "first", 1),
		headingItem(parser.LabelSectionHeader, "Scope", 2),
		text(parser.LabelText, "second", 1),
		headingItem(parser.LabelSectionHeader, "Subpart B", 1),
		text(parser.LabelText, "third", 1),
		headingItem(parser.LabelSectionHeader, "Unleveled", 0),
		text(parser.LabelText, "fourth", 1),
	}}

	spans := Segmenter{}.Segment(doc)
	require.Len(t, spans, 4)
	assert.Equal(t, []string{"Fair Housing Act", "Subpart A", "Definitions"}, spans[0].Headings)
	assert.Equal(t, []string{"Fair Housing Act", "Subpart A", "Scope"}, spans[1].Headings)
	assert.Equal(t, []string{"Fair Housing Act", "Subpart B"}, spans[2].Headings)
	assert.Equal(t, []string{"Fair Housing Act", "Unleveled"}, spans[3].Headings)
}

func TestSegmentDropsFurniture(t *testing.T) {
	doc := &parser.Document{Texts: []parser.Item{
		text(parser.LabelPageHeader, "Header", 1),
		text(parser.LabelText, "body", 1),
		text(parser.LabelPageFooter, "Footer", 1),
		text(parser.LabelDocumentIndex, "Index", 1),
	}}

	spans := Segmenter{}.Segment(doc)
	require.Len(t, spans, 1)
	assert.Equal(t, "body", spans[0].Text())
}

func TestSegmentSplitsOnPageChange(t *testing.T) {
	doc := &parser.Document{Texts: []parser.Item{
		text(parser.LabelText, "page one", 1),
		text(parser.LabelText, "still one", 1),
		text(parser.LabelText, "page two", 2),
	}}

	spans := Segmenter{}.Segment(doc)
	require.Len(t, spans, 2)
	assert.Equal(t, "page one\nstill one", spans[0].Text())
	assert.Equal(t, "page two", spans[1].Text())
}

func TestSegmentSplitsOnMaxChars(t *testing.T) {
	doc := &parser.Document{Texts: []parser.Item{
		text(parser.LabelText, strings.Repeat("a", 6), 1),
		text(parser.LabelText, strings.Repeat("b", 3), 1),
		text(parser.LabelText, strings.Repeat("c", 3), 1),
	}}

	// 6+1+3 = 10 fits, adding 1+3 more does not.
	spans := Segmenter{MaxChars: 10}.Segment(doc)
	require.Len(t, spans, 2)
	assert.Equal(t, "aaaaaa\nbbb", spans[0].Text())
	assert.Equal(t, "ccc", spans[1].Text())
}

func TestSegmentOversizedItemStandsAlone(t *testing.T) {
	doc := &parser.Document{Texts: []parser.Item{
		text(parser.LabelText, strings.Repeat("x", 50), 1),
	}}

	spans := Segmenter{MaxChars: 10}.Segment(doc)
	require.Len(t, spans, 1)
	assert.Len(t, spans[0].Text(), 50)
}

func TestAssembleFixture(t *testing.T) {
	doc := loadFixture(t)
	chunks := Assemble(doc, Segmenter{}.Segment(doc))

	require.Len(t, chunks, 2)

	first := chunks[0]
	assert.Equal(t, 1, first.PageNum)
	assert.Equal(t, evidence.BBox{72, 690, 540, 605}, first.BBox)
	assert.True(t, strings.HasPrefix(first.Text, "Handicap means"))
	assert.Equal(t, evidence.ChunkID(1, first.Text), first.ID)

	table := chunks[1]
	assert.Equal(t, 2, table.PageNum)
	assert.Equal(t, evidence.BBox{72, 642, 540, 492}, table.BBox)
	assert.Equal(t, []string{"Dwelling"}, table.Headings)
}

func TestAssembleWithoutProvenance(t *testing.T) {
	doc := &parser.Document{}
	spans := []Span{{Items: []*parser.Item{{Label: parser.LabelText, Text: "floating"}}}}

	chunks := Assemble(doc, spans)
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].PageNum)
	assert.True(t, chunks[0].BBox.IsZero())
	assert.NotNil(t, chunks[0].Headings)
	assert.Empty(t, chunks[0].Headings)
}

func TestAssembleSkipsEmptySpans(t *testing.T) {
	doc := &parser.Document{}
	spans := []Span{
		{Items: []*parser.Item{{Label: parser.LabelText, Text: "   \n "}}},
		{Items: []*parser.Item{{Label: parser.LabelText, Text: "kept"}}},
		{},
	}

	chunks := Assemble(doc, spans)
	require.Len(t, chunks, 1)
	assert.Equal(t, "kept", chunks[0].Text)
}

func TestAssembleMergesBoxesAcrossItems(t *testing.T) {
	a := text(parser.LabelText, "a", 3, 0, 10, 5, 0)
	b := text(parser.LabelText, "b", 3, 3, 12, 8, 2)
	doc := &parser.Document{}

	chunks := Assemble(doc, []Span{{Items: []*parser.Item{&a, &b}}})
	require.Len(t, chunks, 1)
	assert.Equal(t, evidence.BBox{0, 12, 8, 0}, chunks[0].BBox)
	assert.Equal(t, 3, chunks[0].PageNum)
}

func TestBuildEmbedsEveryChunk(t *testing.T) {
	doc := loadFixture(t)
	b := NewBuilder(embedding.NewHash(64), Options{}, nil)

	chunks, err := b.Build(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Len(t, c.Embedding, 64)
	}
}

func TestBuildBatchesInOrder(t *testing.T) {
	items := make([]parser.Item, 70)
	for i := range items {
		// One page per item forces one chunk each.
		items[i] = text(parser.LabelText, strings.Repeat("w", i+1), i+1)
	}
	doc := &parser.Document{Texts: items}
	e := &recordingEmbedder{dims: 4}
	b := NewBuilder(e, Options{BatchSize: 32, Concurrency: 2}, nil)

	chunks, err := b.Build(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 70)

	assert.ElementsMatch(t, []int{32, 32, 6}, e.batches)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.PageNum)
		assert.Equal(t, float32(i+1), c.Embedding[0], "chunk %d got another chunk's vector", i)
	}
}

func TestBuildEmbeddingFailureFailsDocument(t *testing.T) {
	e := &recordingEmbedder{dims: 4, err: errors.New("503 Service Unavailable")}
	b := NewBuilder(e, Options{}, nil)

	chunks, err := b.Build(context.Background(), loadFixture(t))
	require.Error(t, err)
	assert.Nil(t, chunks)
	assert.Equal(t, evidence.KindUpstream, evidence.KindOf(err))
}

func TestBuildDimensionMismatchIsConfigError(t *testing.T) {
	e := &recordingEmbedder{dims: 4, outDims: 3}
	b := NewBuilder(e, Options{}, nil)

	_, err := b.Build(context.Background(), loadFixture(t))
	require.Error(t, err)
	assert.Equal(t, evidence.KindConfig, evidence.KindOf(err))
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestBuildEmptyDocument(t *testing.T) {
	e := &recordingEmbedder{dims: 4}
	b := NewBuilder(e, Options{}, nil)

	chunks, err := b.Build(context.Background(), &parser.Document{})
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Empty(t, e.batches)
}
