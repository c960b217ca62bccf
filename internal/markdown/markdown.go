package markdown

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// DefaultPagePrefix is prepended to wiki-internal link targets.
const DefaultPagePrefix = "/wiki/"

// Renderer converts page markdown to HTML. Relative links are rewritten to
// point at wiki pages and external links open in a new tab.
type Renderer struct {
	md goldmark.Markdown
}

// Option configures a Renderer.
type Option func(*linkRewriter)

// WithPagePrefix sets the path prefix used for internal page links.
func WithPagePrefix(prefix string) Option {
	return func(r *linkRewriter) {
		r.prefix = prefix
	}
}

// WithSlugger sets the function that maps a link target to a page slug.
func WithSlugger(slugify func(string) string) Option {
	return func(r *linkRewriter) {
		if slugify != nil {
			r.slugify = slugify
		}
	}
}

// New builds a Renderer with GitHub flavoured markdown enabled.
func New(opts ...Option) *Renderer {
	rewriter := &linkRewriter{
		prefix:  DefaultPagePrefix,
		slugify: func(s string) string { return s },
	}
	for _, opt := range opts {
		opt(rewriter)
	}

	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithASTTransformers(util.Prioritized(rewriter, 100)),
		),
	)

	return &Renderer{md: md}
}

// Render converts source to HTML.
func (r *Renderer) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", eris.Wrap(err, "rendering markdown")
	}
	return buf.String(), nil
}

type linkRewriter struct {
	prefix  string
	slugify func(string) string
}

func (t *linkRewriter) Transform(node *ast.Document, reader text.Reader, _ parser.Context) {
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch link := n.(type) {
		case *ast.Link:
			dest := string(link.Destination)
			if isExternal(dest) {
				link.SetAttributeString("target", []byte("_blank"))
				link.SetAttributeString("rel", []byte("noopener noreferrer"))
				return ast.WalkContinue, nil
			}
			if rewritten, ok := t.pageLink(dest); ok {
				link.Destination = []byte(rewritten)
			}
		case *ast.AutoLink:
			if link.AutoLinkType == ast.AutoLinkURL && isExternal(string(link.URL(reader.Source()))) {
				link.SetAttributeString("target", []byte("_blank"))
				link.SetAttributeString("rel", []byte("noopener noreferrer"))
			}
		}
		return ast.WalkContinue, nil
	})
}

// pageLink maps a relative destination such as "about" or "/about.md#top" to
// the page route. Fragment-only and scheme-qualified targets are left alone.
func (t *linkRewriter) pageLink(dest string) (string, bool) {
	dest = strings.TrimSpace(dest)
	if dest == "" || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "//") {
		return "", false
	}
	if strings.HasPrefix(dest, t.prefix) {
		return "", false
	}

	parsed, err := url.Parse(dest)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" {
		return "", false
	}

	slug := t.slugify(strings.TrimLeft(parsed.Path, "/"))
	segments := strings.Split(slug, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}

	target := t.prefix + strings.Join(segments, "/")
	if parsed.Fragment != "" {
		target += "#" + parsed.Fragment
	}
	return target, true
}

func isExternal(dest string) bool {
	s := strings.ToLower(strings.TrimSpace(dest))
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "ftp://") ||
		strings.HasPrefix(s, "//")
}
