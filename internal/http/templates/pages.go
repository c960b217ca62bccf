package templates

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/a-h/templ"

	"peerwiki/app/internal/search"
)

// liveSearchScript re-runs the search once typing pauses for the debounce
// delay and swaps in the rendered results.
const liveSearchScript = `<script>(function(){
var form=document.getElementById('search-form'),box=document.getElementById('search-results'),timer;
if(!form||!box)return;
form.q.addEventListener('input',function(){clearTimeout(timer);timer=setTimeout(function(){
var target='/search?q='+encodeURIComponent(form.q.value);
history.replaceState(null,'',target);
fetch(target).then(function(r){return r.text()}).then(function(html){
var next=new DOMParser().parseFromString(html,'text/html').getElementById('search-results');
if(next){box.innerHTML=next.innerHTML}}).catch(function(){})},%d)})})();</script>`

// WikiPage renders a page view.
func WikiPage(data WikiPageData) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<div class="page-actions"><h2 class="page-title">`)
		w.text(data.Slug)
		w.raw(`</h2><a href="`)
		w.text(pagePath(data.Slug) + "/history")
		w.raw(`">History</a>`)
		if data.ShareURL != "" {
			w.raw(` <a class="share" href="`)
			w.text(data.ShareURL)
			w.raw(`">Share link</a>`)
		}
		w.raw(`</div><article id="wiki-content">`)
		w.component(ctx, RawHTML(data.HTML))
		w.raw(`</article>`)
		return w.err
	})

	return Layout(data.Slug+" - "+SiteName, data.Status, body)
}

// HistoryPage renders the version list of a page, newest first.
func HistoryPage(data HistoryPageData) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<h2>History of <a href="`)
		w.text(pagePath(data.Slug))
		w.raw(`">`)
		w.text(data.Slug)
		w.raw(`</a></h2>`)

		if len(data.Versions) == 0 {
			w.raw(`<p>No saved versions yet.</p>`)
			return w.err
		}

		w.raw(`<ol class="history">`)
		for _, version := range data.Versions {
			w.raw(`<li><time>`)
			w.text(version.CreatedAt)
			w.raw(`</time> by <code>`)
			w.text(version.PeerID)
			w.raw(`</code> <a href="`)
			w.text(pagePath(data.Slug) + "/diff?from=" + url.QueryEscape(version.ID))
			w.raw(`">Compare with current</a><p>`)
			w.text(version.Preview)
			w.raw(`</p></li>`)
		}
		w.raw(`</ol>`)
		return w.err
	})

	return Layout("History of "+data.Slug+" - "+SiteName, data.Status, body)
}

// DiffPage renders a line diff between two versions.
func DiffPage(data DiffPageData) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<h2>Changes to <a href="`)
		w.text(pagePath(data.Slug))
		w.raw(`">`)
		w.text(data.Slug)
		w.raw(`</a></h2><p>`)
		w.text(fmt.Sprintf("Version %s compared with %s: +%d -%d", data.FromID, data.ToLabel, data.Added, data.Removed))
		w.raw(`</p><pre class="diff">`)
		for _, line := range data.Lines {
			w.raw(`<span class="`)
			w.text(line.Kind)
			w.raw(`">`)
			w.text(diffMarker(line.Kind) + line.Text)
			w.raw("</span>\n")
		}
		w.raw(`</pre>`)
		return w.err
	})

	return Layout("Changes to "+data.Slug+" - "+SiteName, data.Status, body)
}

// SearchPage renders the search form and results.
func SearchPage(data SearchPageData) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<form id="search-form" action="/search" method="get"><input type="search" name="q" value="`)
		w.text(data.Query)
		w.raw(`" autofocus><button type="submit">Search</button></form><div id="search-results">`)
		searchResults(w, data)
		w.raw(`</div>`)
		w.raw(fmt.Sprintf(liveSearchScript, search.DefaultDebounceDelay.Milliseconds()))
		return w.err
	})

	return Layout("Search - "+SiteName, data.Status, body)
}

func searchResults(w *writer, data SearchPageData) {
	if data.Query == "" {
		return
	}
	if len(data.Results) == 0 {
		w.raw(`<p>No pages match `)
		w.text(strconv.Quote(data.Query))
		w.raw(`.</p>`)
		return
	}

	w.raw(`<ul class="search-results">`)
	for _, result := range data.Results {
		w.raw(`<li><a href="`)
		w.text(result.URL)
		w.raw(`">`)
		w.raw(Highlight(result.Slug, result.SlugMatches))
		w.raw(`</a>`)
		if result.Preview != "" {
			w.raw(`<p>`)
			w.text(result.Preview)
			w.raw(`</p>`)
		}
		w.raw(`</li>`)
	}
	w.raw(`</ul>`)
}

// WikisPage lists the wikis opened on this device.
func WikisPage(data WikisPageData) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<h2>Your wikis</h2>`)
		if len(data.Entries) == 0 {
			w.raw(`<p>No wikis visited yet.</p>`)
			return w.err
		}

		w.raw(`<ul class="wikis">`)
		for _, entry := range data.Entries {
			w.raw(`<li><a href="`)
			w.text(entry.OpenURL)
			w.raw(`">`)
			w.text(entry.Name)
			w.raw(`</a> <code>`)
			w.text(entry.Token)
			w.raw(`</code> <time>`)
			w.text(entry.LastVisited)
			w.raw(`</time>`)
			if entry.Active {
				w.raw(` <strong>open</strong>`)
			}
			w.raw(`</li>`)
		}
		w.raw(`</ul>`)
		return w.err
	})

	return Layout("Wikis - "+SiteName, data.Status, body)
}

// ErrorPage renders a standalone error view.
func ErrorPage(data ErrorPageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`)
		w.text(data.StatusLabel + " - " + SiteName)
		w.raw(`</title></head><body><main><h1>`)
		w.text(data.StatusLabel)
		w.raw(`</h1><p>`)
		w.text(data.Message)
		w.raw(`</p><p><a href="/wiki/home">Back to home</a></p></main></body></html>`)
		return w.err
	})
}

func pagePath(slug string) string {
	return "/wiki/" + url.PathEscape(slug)
}

func diffMarker(kind string) string {
	switch kind {
	case "add":
		return "+ "
	case "remove":
		return "- "
	default:
		return "  "
	}
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
