package ingest

import (
	"sort"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
	"github.com/lumozai/layout-aware-rag-demo/internal/parser"
	"github.com/lumozai/layout-aware-rag-demo/internal/store"
)

// Pages resolves page geometry: what the parser reported, else the PDF's
// own MediaBoxes, else default-sized pages for every page an item
// references.
func Pages(docID, path string, doc *parser.Document) []evidence.Page {
	if sizes := doc.PageSizes(); len(sizes) > 0 {
		pages := make([]evidence.Page, 0, len(sizes))
		for n, size := range sizes {
			pages = append(pages, evidence.Page{DocID: docID, PageNum: n, Width: size.Width, Height: size.Height})
		}
		return sortPages(pages)
	}

	if info, err := parser.ProbePDF(path); err == nil && info.PageCount > 0 {
		pages := make([]evidence.Page, 0, info.PageCount)
		for n := 1; n <= info.PageCount; n++ {
			page := evidence.DefaultPage(docID, n)
			if size, ok := info.Sizes[n]; ok {
				page.Width, page.Height = size.Width, size.Height
			}
			pages = append(pages, page)
		}
		return pages
	}

	refs := doc.ReferencedPages()
	pages := make([]evidence.Page, 0, len(refs))
	for _, n := range refs {
		pages = append(pages, evidence.DefaultPage(docID, n))
	}
	return pages
}

// CompletePages adds a default page for every chunk page missing from
// pages, so each chunk has a page to link to.
func CompletePages(docID string, pages []evidence.Page, chunks []evidence.Chunk) []evidence.Page {
	idx := store.PageIndex(docID, pages, chunks)
	out := make([]evidence.Page, 0, len(idx))
	for _, p := range idx {
		out = append(out, p)
	}
	return sortPages(out)
}

func sortPages(pages []evidence.Page) []evidence.Page {
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNum < pages[j].PageNum })
	return pages
}
