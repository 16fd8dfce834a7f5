// Package citation resolves bracketed chunk-id markers in answers to page
// regions and renders them as links into the evidence viewer.
package citation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
)

var markerRE = regexp.MustCompile(`\[([^\]]+)\]`)

// Markers returns the trimmed identifiers of every bracketed marker in
// text, in order of appearance, repeats included.
func Markers(text string) []string {
	matches := markerRE.FindAllStringSubmatch(text, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSpace(m[1]))
	}
	return ids
}

// ExtractCited maps every marker that names a candidate chunk to its
// evidence. Markers naming anything else are ignored.
func ExtractCited(answer string, candidates []evidence.QueryResult) map[string]evidence.CitedChunk {
	cited := make(map[string]evidence.CitedChunk)
	markers := Markers(answer)
	if len(markers) == 0 {
		return cited
	}
	byID := make(map[string]evidence.QueryResult, len(candidates))
	for _, c := range candidates {
		if _, seen := byID[c.Chunk.ID]; !seen {
			byID[c.Chunk.ID] = c
		}
	}
	for _, id := range markers {
		if r, ok := byID[id]; ok {
			cited[id] = r.Cite()
		}
	}
	return cited
}

// ViewerURL is the evidence viewer reference for a cited chunk.
func ViewerURL(c evidence.CitedChunk) string {
	return fmt.Sprintf("/viewer?doc=%s&page=%d&bbox=%s", c.DocID, c.Page, c.BBox)
}

// Linkify replaces resolved markers with viewer links. Unresolved markers
// are left exactly as written.
func Linkify(text string, cited map[string]evidence.CitedChunk) string {
	return markerRE.ReplaceAllStringFunc(text, func(marker string) string {
		id := strings.TrimSpace(marker[1 : len(marker)-1])
		c, ok := cited[id]
		if !ok {
			return marker
		}
		return fmt.Sprintf("[<a href='%s' target='_blank' rel='noopener'>%s</a>]", ViewerURL(c), id)
	})
}
