package citation

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/lumozai/layout-aware-rag-demo/internal/evidence"
)

// NoResultsAnswer is returned when nothing was retrieved.
const NoResultsAnswer = "No relevant information found to answer your query."

// Synthesizer turns retrieved chunks into an answer carrying [chunk-id]
// markers. Markers are verified against the results afterwards, so an
// implementation may emit ids it should not; they are simply not linked.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, results []evidence.QueryResult) (string, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, query string, results []evidence.QueryResult) (string, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, query string, results []evidence.QueryResult) (string, error) {
	return f(ctx, query, results)
}

// KeywordSynthesizer is an extractive placeholder. In order of preference
// it answers with a definition line mentioning a query keyword, bullet
// excerpts from the top two chunks mentioning one, or the opening of the
// top two chunks.
type KeywordSynthesizer struct{}

var stopwords = map[string]bool{
	"what": true, "does": true, "mean": true, "means": true, "define": true,
	"definition": true, "defined": true, "about": true, "which": true,
	"there": true, "their": true, "with": true, "from": true, "this": true,
	"that": true, "have": true, "under": true, "when": true, "where": true,
	"term": true, "tell": true,
}

var definitionCues = []string{"means", "defined", "definition"}

// Keywords returns the distinct lowercase words of query worth matching:
// four letters or more and not a question word.
func Keywords(query string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func (KeywordSynthesizer) Synthesize(_ context.Context, query string, results []evidence.QueryResult) (string, error) {
	if len(results) == 0 {
		return NoResultsAnswer, nil
	}
	keywords := Keywords(query)

	if answer, ok := definitionAnswer(keywords, results); ok {
		return answer, nil
	}
	if answer, ok := contextAnswer(keywords, results); ok {
		return answer, nil
	}
	return generalAnswer(results), nil
}

func definitionAnswer(keywords []string, results []evidence.QueryResult) (string, bool) {
	for _, r := range results {
		lower := strings.ToLower(r.Chunk.Text)
		kw, ok := firstContained(lower, keywords)
		if !ok || !containsAny(lower, definitionCues) {
			continue
		}
		for _, line := range strings.Split(r.Chunk.Text, "\n") {
			if strings.Contains(strings.ToLower(line), kw) {
				return fmt.Sprintf("According to the document: %s [%s]", strings.TrimSpace(line), r.Chunk.ID), true
			}
		}
	}
	return "", false
}

func contextAnswer(keywords []string, results []evidence.QueryResult) (string, bool) {
	var b strings.Builder
	used := ""
	for _, r := range results[:min(2, len(results))] {
		lower := strings.ToLower(r.Chunk.Text)
		kw, ok := firstContained(lower, keywords)
		if !ok {
			continue
		}
		for _, sentence := range strings.Split(r.Chunk.Text, ".") {
			s := strings.TrimSpace(sentence)
			if len(s) > 10 && strings.Contains(strings.ToLower(s), kw) {
				fmt.Fprintf(&b, "• %s. [%s]\n\n", s, r.Chunk.ID)
				if used == "" {
					used = kw
				}
				break
			}
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	header := fmt.Sprintf("Based on the retrieved documents, the term '%s' appears in the following context:\n\n", used)
	return strings.TrimSpace(header + b.String()), true
}

func generalAnswer(results []evidence.QueryResult) string {
	var b strings.Builder
	b.WriteString("Based on the retrieved documents:\n\n")
	for _, r := range results[:min(2, len(results))] {
		text := r.Chunk.Text
		switch {
		case len(text) <= 100:
			fmt.Fprintf(&b, "• %s [%s]\n\n", text, r.Chunk.ID)
		case len(strings.TrimSpace(strings.SplitN(text, ".", 2)[0])) > 50:
			fmt.Fprintf(&b, "• %s. [%s]\n\n", strings.TrimSpace(strings.SplitN(text, ".", 2)[0]), r.Chunk.ID)
		default:
			fmt.Fprintf(&b, "• %s... [%s]\n\n", truncateRunes(text, 200), r.Chunk.ID)
		}
	}
	return strings.TrimSpace(b.String())
}

func firstContained(lower string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
