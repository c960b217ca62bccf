package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

const stylesheet = `body{font-family:system-ui,sans-serif;margin:0;color:#222}
header,main,footer{max-width:52rem;margin:0 auto;padding:0 1rem}
header{display:flex;gap:1rem;align-items:center;border-bottom:1px solid #ddd}
header nav{margin-left:auto;display:flex;gap:.75rem}
.peer-indicator{width:.6rem;height:.6rem;border-radius:50%;background:#bbb;display:inline-block}
.peer-indicator.connected{background:#2a2}
.status-bar{font-size:.85rem;padding:.4rem 1rem;background:#f5f5f5}
.status-bar.success{background:#e6f6e6}.status-bar.error{background:#fbe9e9}
.diff .add{background:#e6ffed}.diff .remove{background:#ffeef0}
pre.diff{white-space:pre-wrap}mark{background:#ffe58f}`

// pollScript refreshes the status bar and reloads the page when a peer sync
// changed the content being viewed.
const pollScript = `(function(){
var bar=document.getElementById('status-bar');if(!bar)return;
var rev=bar.dataset.revision;
setInterval(function(){fetch('/api/status').then(function(r){return r.json()}).then(function(s){
bar.querySelector('.status-message').textContent=s.notice||s.statusText;
document.querySelector('.peer-count').textContent=s.peerLabel;
if(String(s.revision)!==rev&&!s.editing){location.reload()}
}).catch(function(){})},2000)})();`

// Layout wraps body in the shared page chrome.
func Layout(title string, status StatusView, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
		w.text(title)
		w.raw(`</title><style>`)
		w.raw(stylesheet)
		w.raw(`</style></head><body><header><h1><a href="/wiki/home">`)
		w.text(SiteName)
		w.raw(`</a></h1><span class="peer-indicator`)
		if status.Connected {
			w.raw(` connected`)
		}
		w.raw(`"></span><span class="peer-count">`)
		w.text(status.PeerLabel)
		w.raw(`</span><nav><a href="/search">Search</a><a href="/wikis">Wikis</a></nav></header>`)

		w.raw(`<div id="status-bar" class="status-bar`)
		if status.NoticeKind != "" {
			w.raw(" ")
			w.text(status.NoticeKind)
		}
		w.raw(`" data-revision="`)
		w.text(formatUint(status.Revision))
		w.raw(`"><span class="status-message">`)
		if status.Notice != "" {
			w.text(status.Notice)
		} else {
			w.text(status.Connection)
		}
		w.raw(`</span></div><main>`)
		w.component(ctx, body)
		w.raw(`</main><footer><p>Wiki token: <code>`)
		w.text(status.Token)
		w.raw(`</code></p></footer><script>`)
		w.raw(pollScript)
		w.raw(`</script></body></html>`)
		return w.err
	})
}
