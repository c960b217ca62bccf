// Package search ranks wiki pages against a free-form query using an in-order
// fuzzy subsequence match over page slugs and content.
package search

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxResults caps the number of ranked results returned by Search.
	MaxResults = 10

	slugWeight        = 2
	contiguousBonus   = 10
	leadingBonus      = 20
	wordBoundaryBonus = 15

	previewRadius   = 30
	previewFallback = 60
	ellipsis        = "..."
)

// Document is a single searchable page.
type Document struct {
	Slug    string
	Content string
}

// Result is a ranked search hit.
type Result struct {
	Slug           string `json:"slug"`
	Score          int    `json:"score"`
	SlugMatches    []int  `json:"slugMatches,omitempty"`
	ContentMatches []int  `json:"contentMatches,omitempty"`
	Preview        string `json:"preview"`
}

// Match scores target against query. It reports false when the query runes
// cannot all be found in order. Matched positions are rune indices into target.
func Match(query, target string) (int, []int, bool) {
	q := lowerRunes(query)
	if len(q) == 0 {
		return 0, nil, false
	}
	t := lowerRunes(target)

	score := 0
	indices := make([]int, 0, len(q))
	qi := 0
	last := -1

	for ti := 0; ti < len(t) && qi < len(q); ti++ {
		if t[ti] != q[qi] {
			continue
		}

		score++
		if last >= 0 && ti == last+1 {
			score += contiguousBonus
		}
		if ti == 0 {
			score += leadingBonus
		} else if isBoundary(t[ti-1]) {
			score += wordBoundaryBonus
		}

		indices = append(indices, ti)
		last = ti
		qi++
	}

	if qi < len(q) {
		return 0, nil, false
	}

	return score, indices, true
}

// Search ranks the corpus against query and returns at most MaxResults hits.
// Slug matches count double so that title hits outrank body hits; ties keep
// corpus order.
func Search(query string, corpus []Document) []Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	results := make([]Result, 0, len(corpus))
	for _, doc := range corpus {
		slugScore, slugMatches, slugOK := Match(query, doc.Slug)
		contentScore, contentMatches, contentOK := Match(query, doc.Content)
		if !slugOK && !contentOK {
			continue
		}

		score := 0
		if slugOK {
			score = slugScore * slugWeight
		}
		if contentOK && contentScore > score {
			score = contentScore
		}

		results = append(results, Result{
			Slug:           doc.Slug,
			Score:          score,
			SlugMatches:    slugMatches,
			ContentMatches: contentMatches,
			Preview:        Preview(doc.Content, query),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > MaxResults {
		results = results[:MaxResults]
	}

	return results
}

// Highlight wraps every rune of text whose index appears in indices with open
// and close. Runs between matches are copied unchanged.
func Highlight(text string, indices []int, open, close string) string {
	if len(indices) == 0 {
		return text
	}

	marked := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		marked[idx] = struct{}{}
	}

	var b strings.Builder
	b.Grow(len(text) + len(indices)*(len(open)+len(close)))

	i := 0
	for _, r := range text {
		if _, ok := marked[i]; ok {
			b.WriteString(open)
			b.WriteRune(r)
			b.WriteString(close)
		} else {
			b.WriteRune(r)
		}
		i++
	}

	return b.String()
}

// Preview extracts a short excerpt of content around the first body line that
// literally contains query. Headings and blank lines are never used. Without
// a literal hit the first body line is returned, cut at 60 runes.
func Preview(content, query string) string {
	if content == "" {
		return ""
	}

	needle := string(lowerRunes(query))
	var first []rune

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		runes := []rune(line)
		if first == nil {
			first = runes
		}

		lowered := string(lowerRunes(line))
		byteIdx := strings.Index(lowered, needle)
		if byteIdx < 0 {
			continue
		}

		start := utf8.RuneCountInString(lowered[:byteIdx])
		end := start + utf8.RuneCountInString(needle)
		return window(runes, start, end)
	}

	if first == nil {
		return ""
	}
	if len(first) > previewFallback {
		return string(first[:previewFallback]) + ellipsis
	}
	return string(first)
}

func window(runes []rune, matchStart, matchEnd int) string {
	start := matchStart - previewRadius
	if start < 0 {
		start = 0
	}
	end := matchEnd + previewRadius
	if end > len(runes) {
		end = len(runes)
	}

	excerpt := string(runes[start:end])
	if start > 0 {
		excerpt = ellipsis + excerpt
	}
	if end < len(runes) {
		excerpt += ellipsis
	}
	return excerpt
}

func lowerRunes(s string) []rune {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}

func isBoundary(r rune) bool {
	return unicode.IsSpace(r) || r == '-' || r == '_'
}
