package initiatives

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	scoreNameSubstring = 10
	scoreNameWord      = 3
	scoreDescSubstring = 5
	scoreDescWord      = 1

	minWordLen    = 3
	snippetBefore = 30
	snippetAfter  = 50
	snippetHead   = snippetBefore + snippetAfter
)

type scored struct {
	entry  Entry
	score  int
	byName bool
}

// SearchLexical ranks initiatives against query. Name matches outrank
// description matches, and descriptions are only scored for items whose
// name does not match. Failures return an empty slice.
func (r *Registry) SearchLexical(ctx context.Context, query string, limit int) []SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return []SearchResult{}
	}
	words := queryWords(q)

	index, err := r.store.GetIndex(ctx)
	if err != nil {
		r.logger.Warn(ctx, "lexical search: loading index failed", zap.Error(err))
		return []SearchResult{}
	}

	if len(index) == 0 {
		return []SearchResult{}
	}
	hits := make([]scored, 0, len(index))
	for _, e := range index {
		s := scoreName(strings.ToLower(e.Name), q, words)
		hits = append(hits, scored{entry: e, score: s, byName: s > 0})
	}

	// Snippets need the description even for name matches.
	items, err := r.store.GetAllItems(ctx)
	if err != nil {
		r.logger.Warn(ctx, "lexical search: loading items failed", zap.Error(err))
		return []SearchResult{}
	}
	byID := make(map[string]Initiative, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		item, ok := byID[h.entry.ID]
		if !ok {
			continue
		}
		var snippet string
		if h.byName {
			snippet = head(item.Description)
		} else {
			h.score, snippet = scoreDescription(item.Description, q, words)
		}
		if h.score == 0 {
			continue
		}
		results = append(results, SearchResult{
			Name:    item.Name,
			Owner:   item.Owner,
			Status:  item.Status.Value,
			Snippet: snippet,
			Score:   h.score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func queryWords(q string) []string {
	var words []string
	for _, w := range strings.Fields(q) {
		if utf8.RuneCountInString(w) >= minWordLen {
			words = append(words, w)
		}
	}
	return words
}

func scoreName(name, q string, words []string) int {
	if strings.Contains(name, q) {
		return scoreNameSubstring
	}
	score := 0
	for _, w := range words {
		if strings.Contains(name, w) {
			score += scoreNameWord
		}
	}
	return score
}

func scoreDescription(desc, q string, words []string) (int, string) {
	lower := strings.ToLower(desc)
	if i := strings.Index(lower, q); i >= 0 {
		return scoreDescSubstring, snippetAround(desc, lower, i)
	}
	score, first := 0, -1
	for _, w := range words {
		if i := strings.Index(lower, w); i >= 0 {
			score += scoreDescWord
			if first < 0 || i < first {
				first = i
			}
		}
	}
	if score == 0 {
		return 0, ""
	}
	return score, snippetAround(desc, lower, first)
}

// snippetAround cuts desc around the byte offset at of its lowercased form.
// Lowercasing maps rune for rune, so rune offsets agree between the two.
func snippetAround(desc, lower string, at int) string {
	pos := utf8.RuneCountInString(lower[:at])
	runes := []rune(desc)
	start := pos - snippetBefore
	if start < 0 {
		start = 0
	}
	end := pos + snippetAfter
	if end > len(runes) {
		end = len(runes)
	}

	s := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		s = "..." + s
	}
	if end < len(runes) {
		s += "..."
	}
	return s
}

func head(desc string) string {
	runes := []rune(strings.TrimSpace(desc))
	if len(runes) <= snippetHead {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:snippetHead])) + "..."
}
