// Package diff computes whole-line differences between two versions of a page.
package diff

import "strings"

// LineType classifies a line in a diff.
type LineType string

const (
	Context LineType = "context"
	Add     LineType = "add"
	Remove  LineType = "remove"
)

// Line is a single entry of a line diff.
type Line struct {
	Type LineType `json:"type"`
	Text string   `json:"line"`
}

// Lines returns the line-level diff that turns oldText into newText.
//
// The diff is derived from a longest-common-subsequence table over the two
// line sequences. When both directions keep the same amount of common
// material the backtrack consumes the new text first, so equal inputs always
// produce the same output.
func Lines(oldText, newText string) []Line {
	a := splitLines(oldText)
	b := splitLines(newText)
	m, n := len(a), len(b)

	table := make([][]int, m+1)
	for i := range table {
		table[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				table[i][j] = table[i-1][j-1] + 1
			} else if table[i-1][j] >= table[i][j-1] {
				table[i][j] = table[i-1][j]
			} else {
				table[i][j] = table[i][j-1]
			}
		}
	}

	out := make([]Line, 0, m+n)
	i, j := m, n
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && a[i-1] == b[j-1]:
			out = append(out, Line{Type: Context, Text: a[i-1]})
			i--
			j--
		case j > 0 && (i == 0 || table[i][j-1] >= table[i-1][j]):
			out = append(out, Line{Type: Add, Text: b[j-1]})
			j--
		default:
			out = append(out, Line{Type: Remove, Text: a[i-1]})
			i--
		}
	}

	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}

	return out
}

// Apply rebuilds the new text from a diff by dropping removed lines.
func Apply(lines []Line) string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.Type == Remove {
			continue
		}
		kept = append(kept, line.Text)
	}
	return strings.Join(kept, "\n")
}

// Stats counts the added and removed lines of a diff.
func Stats(lines []Line) (added, removed int) {
	for _, line := range lines {
		switch line.Type {
		case Add:
			added++
		case Remove:
			removed++
		}
	}
	return added, removed
}

// splitLines treats an empty text as zero lines so that Apply round-trips it.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
