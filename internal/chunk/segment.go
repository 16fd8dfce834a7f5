// Package chunk turns a parsed layout tree into citable, embedded chunks.
package chunk

import (
	"strings"

	"github.com/lumozai/layout-aware-rag-demo/internal/parser"
)

// DefaultMaxChars caps the text accumulated into one span.
const DefaultMaxChars = 1200

// Span is a run of consecutive items under one heading path, before
// geometry and identity are attached.
type Span struct {
	Items    []*parser.Item
	Headings []string
}

// Text joins the trimmed content of every item.
func (s Span) Text() string {
	parts := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		if c := strings.TrimSpace(it.Content()); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n")
}

// Segmenter partitions a document into spans following its structure.
// Headings start new spans and extend the ancestry; page furniture is
// dropped; a span also closes on a page change or when it would grow
// past MaxChars.
type Segmenter struct {
	MaxChars int
}

type heading struct {
	level int
	text  string
}

func (s Segmenter) maxChars() int {
	if s.MaxChars <= 0 {
		return DefaultMaxChars
	}
	return s.MaxChars
}

// Segment walks doc in reading order and returns its spans.
func (s Segmenter) Segment(doc *parser.Document) []Span {
	var (
		spans   []Span
		stack   []heading
		open    []*parser.Item
		size    int
		curPage int
	)

	flush := func() {
		if len(open) == 0 {
			return
		}
		headings := make([]string, len(stack))
		for i, h := range stack {
			headings[i] = h.text
		}
		spans = append(spans, Span{Items: open, Headings: headings})
		open, size, curPage = nil, 0, 0
	}

	doc.Walk(func(it *parser.Item) {
		switch it.Label {
		case parser.LabelPageHeader, parser.LabelPageFooter, parser.LabelDocumentIndex:
			return
		case parser.LabelTitle, parser.LabelSectionHeader:
			flush()
			level := it.Level
			if it.Label == parser.LabelTitle {
				level = 0
			} else if level <= 0 {
				level = 1
			}
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			if text := strings.TrimSpace(it.Text); text != "" {
				stack = append(stack, heading{level: level, text: text})
			}
			return
		}

		content := strings.TrimSpace(it.Content())
		if content == "" {
			return
		}
		page := lastPage(it)
		if len(open) > 0 && page != 0 && curPage != 0 && page != curPage {
			flush()
		}
		if len(open) > 0 && size+1+len(content) > s.maxChars() {
			flush()
		}
		open = append(open, it)
		if size > 0 {
			size++
		}
		size += len(content)
		if page != 0 {
			curPage = page
		}
	})
	flush()
	return spans
}

func lastPage(it *parser.Item) int {
	if len(it.Prov) == 0 {
		return 0
	}
	return it.Prov[len(it.Prov)-1].PageNo
}
