package templates

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"

	"peerwiki/app/internal/search"
)

// RawHTML returns a templ component that writes the provided HTML without escaping.
func RawHTML(html string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := io.WriteString(w, html)
		return err
	})
}

// Highlight escapes text and wraps the runes at indices in <mark> elements.
// Matches are marked with private-use runes first so escaping cannot shift
// the indices.
func Highlight(text string, indices []int) string {
	marked := search.Highlight(text, indices, markOpen, markClose)
	return highlightReplacer.Replace(templ.EscapeString(marked))
}

const (
	markOpen  = "\ue000"
	markClose = "\ue001"
)

var highlightReplacer = strings.NewReplacer(markOpen, "<mark>", markClose, "</mark>")

// writer accumulates the first write error so components can be written as a
// flat sequence of calls.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) raw(s string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}

func (w *writer) text(s string) {
	w.raw(templ.EscapeString(s))
}

func (w *writer) component(ctx context.Context, c templ.Component) {
	if w.err != nil {
		return
	}
	w.err = c.Render(ctx, w.w)
}
