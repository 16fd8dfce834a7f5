package parser

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
)

// Item labels emitted by docling.
const (
	LabelTitle         = "title"
	LabelSectionHeader = "section_header"
	LabelText          = "text"
	LabelParagraph     = "paragraph"
	LabelListItem      = "list_item"
	LabelCaption       = "caption"
	LabelFootnote      = "footnote"
	LabelPageHeader    = "page_header"
	LabelPageFooter    = "page_footer"
	LabelFormula       = "formula"
	LabelCode          = "code"
	LabelTable         = "table"
	LabelDocumentIndex = "document_index"
)

// Coordinate origins reported on provenance boxes.
const (
	OriginBottomLeft = "BOTTOMLEFT"
	OriginTopLeft    = "TOPLEFT"
)

// Document is a parsed docling tree.
type Document struct {
	Name   string              `json:"name"`
	Origin *Origin             `json:"origin,omitempty"`
	Body   Item                `json:"body"`
	Groups []Item              `json:"groups"`
	Texts  []Item              `json:"texts"`
	Tables []Item              `json:"tables"`
	Pages  map[string]PageInfo `json:"pages"`

	// SourcePath is the file the tree was parsed from. Not part of the JSON.
	SourcePath string `json:"-"`
}

type Origin struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
}

// Ref points at another node, e.g. "#/texts/3".
type Ref struct {
	Ref string `json:"$ref"`
}

// Item is any node of the tree: body, group, text or table.
type Item struct {
	SelfRef  string     `json:"self_ref"`
	Label    string     `json:"label"`
	Text     string     `json:"text"`
	Level    int        `json:"level"`
	Prov     []Prov     `json:"prov"`
	Children []Ref      `json:"children"`
	Data     *TableData `json:"data,omitempty"`
}

// Prov is one provenance record: where on which page an item sits.
type Prov struct {
	PageNo int      `json:"page_no"`
	BBox   ProvBBox `json:"bbox"`
}

type ProvBBox struct {
	L           float64 `json:"l"`
	T           float64 `json:"t"`
	R           float64 `json:"r"`
	B           float64 `json:"b"`
	CoordOrigin string  `json:"coord_origin"`
}

// TableData carries table cells. Only the grid text is used.
type TableData struct {
	NumRows int           `json:"num_rows"`
	NumCols int           `json:"num_cols"`
	Grid    [][]TableCell `json:"grid"`
	Cells   []TableCell   `json:"table_cells"`
}

type TableCell struct {
	Text string `json:"text"`
}

type PageInfo struct {
	PageNo int      `json:"page_no"`
	Size   PageSize `json:"size"`
}

type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Decode parses docling JSON output.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode docling json: %w", err)
	}
	return &doc, nil
}

// Title is the docling document name, falling back to the source file stem.
func (d *Document) Title() string {
	if name := strings.TrimSpace(d.Name); name != "" {
		return name
	}
	if d.Origin != nil && d.Origin.Filename != "" {
		return stem(d.Origin.Filename)
	}
	if d.SourcePath != "" {
		return stem(d.SourcePath)
	}
	return "untitled"
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// EvidenceBBox converts a provenance box to bottom-left coordinates. pageHeight is
// only consulted for top-left boxes.
func (p Prov) EvidenceBBox(pageHeight float64) evidence.BBox {
	b := evidence.NewBBox(p.BBox.L, p.BBox.T, p.BBox.R, p.BBox.B)
	if strings.EqualFold(p.BBox.CoordOrigin, OriginTopLeft) {
		if pageHeight <= 0 {
			pageHeight = evidence.DefaultPageHeight
		}
		return evidence.FlipTopLeft(b, pageHeight)
	}
	return b
}

// PageSizes returns the page geometry docling reported, keyed by page number.
func (d *Document) PageSizes() map[int]PageSize {
	out := make(map[int]PageSize, len(d.Pages))
	for key, p := range d.Pages {
		n := p.PageNo
		if n == 0 {
			n, _ = strconv.Atoi(key)
		}
		if n <= 0 || p.Size.Width <= 0 || p.Size.Height <= 0 {
			continue
		}
		out[n] = p.Size
	}
	return out
}

// PageHeight returns the reported height of page n, or the default.
func (d *Document) PageHeight(n int) float64 {
	if p, ok := d.Pages[strconv.Itoa(n)]; ok && p.Size.Height > 0 {
		return p.Size.Height
	}
	return evidence.DefaultPageHeight
}

// ReferencedPages returns every page number any text or table points at, sorted.
func (d *Document) ReferencedPages() []int {
	seen := map[int]bool{}
	for _, items := range [][]Item{d.Texts, d.Tables} {
		for _, it := range items {
			for _, p := range it.Prov {
				if p.PageNo > 0 {
					seen[p.PageNo] = true
				}
			}
		}
	}
	pages := make([]int, 0, len(seen))
	for n := range seen {
		pages = append(pages, n)
	}
	sort.Ints(pages)
	return pages
}

// Resolve looks up a reference of the form "#/<collection>/<index>".
func (d *Document) Resolve(ref string) (*Item, bool) {
	if ref == "#/body" {
		return &d.Body, true
	}
	parts := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	if len(parts) != 2 {
		return nil, false
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil || idx < 0 {
		return nil, false
	}
	var items []Item
	switch parts[0] {
	case "texts":
		items = d.Texts
	case "tables":
		items = d.Tables
	case "groups":
		items = d.Groups
	default:
		return nil, false
	}
	if idx >= len(items) {
		return nil, false
	}
	return &items[idx], true
}

// Walk visits content items in reading order. Groups are descended into but
// not visited. Trees without a body fall back to texts then tables.
func (d *Document) Walk(fn func(*Item)) {
	if len(d.Body.Children) == 0 {
		for i := range d.Texts {
			fn(&d.Texts[i])
		}
		for i := range d.Tables {
			fn(&d.Tables[i])
		}
		return
	}
	seen := map[string]bool{}
	var visit func(refs []Ref)
	visit = func(refs []Ref) {
		for _, r := range refs {
			if seen[r.Ref] {
				continue
			}
			seen[r.Ref] = true
			it, ok := d.Resolve(r.Ref)
			if !ok {
				continue
			}
			if !strings.HasPrefix(r.Ref, "#/groups/") {
				fn(it)
			}
			visit(it.Children)
		}
	}
	visit(d.Body.Children)
}

// Content returns the text an item contributes to a chunk. Tables render
// as pipe-separated rows.
func (it *Item) Content() string {
	if it.Label != LabelTable || it.Data == nil {
		return it.Text
	}
	if len(it.Data.Grid) > 0 {
		rows := make([]string, 0, len(it.Data.Grid))
		for _, row := range it.Data.Grid {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = strings.TrimSpace(c.Text)
			}
			rows = append(rows, strings.Join(cells, " | "))
		}
		return strings.Join(rows, "\n")
	}
	cells := make([]string, 0, len(it.Data.Cells))
	for _, c := range it.Data.Cells {
		cells = append(cells, strings.TrimSpace(c.Text))
	}
	return strings.Join(cells, " ")
}
