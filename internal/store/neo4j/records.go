package neo4j

import (
	"sort"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
)

// ResultFromRow decodes one search or lookup row. Missing columns decode
// to zero values.
func ResultFromRow(row map[string]any) evidence.QueryResult {
	return evidence.QueryResult{
		Chunk: evidence.ChunkRef{
			ID:       asString(row["id"]),
			Text:     asString(row["text"]),
			BBox:     evidence.BBoxFromSlice(asFloat64s(row["bbox"])),
			PageNum:  int(asInt64(row["page_num"])),
			Headings: asStrings(row["headings"]),
		},
		Doc: evidence.DocRef{
			ID:    asString(row["doc_id"]),
			Title: asString(row["title"]),
		},
		Page:  int(asInt64(row["page"])),
		Score: asFloat64(row["score"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asFloat64s(v any) []float64 {
	switch list := v.(type) {
	case []float64:
		return list
	case []any:
		out := make([]float64, len(list))
		for i, x := range list {
			out[i] = asFloat64(x)
		}
		return out
	}
	return nil
}

func asStrings(v any) []string {
	out := []string{}
	switch list := v.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, x := range list {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func float64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func sortedPageNums(idx map[int]evidence.Page) []int {
	nums := make([]int, 0, len(idx))
	for n := range idx {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
