package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/db"
	"peerwiki/app/internal/history"
	"peerwiki/app/internal/markdown"
	"peerwiki/app/internal/session"
	"peerwiki/app/internal/syncdb"
	"peerwiki/app/internal/wiki"
)

const testToken = "abc123"

type testServer struct {
	*Server
	controller *session.Controller
	history    *history.Store
	engines    map[string]*syncdb.LocalEngine
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func defaultLimits() RateLimiterSettings {
	return RateLimiterSettings{RequestsPerSecond: 1000, Burst: 1000, ClientTTL: time.Minute}
}

func newTestServer(t *testing.T, limits RateLimiterSettings, open bool) *testServer {
	t.Helper()

	dir := t.TempDir()
	logger := silentLogger()

	historyDB, err := db.Open(db.Options{Path: filepath.Join(dir, "history.db")})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(historyDB) })

	store, err := history.NewStore(context.Background(), historyDB, logger)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	pointer, err := history.NewActivePointer(filepath.Join(dir, "active-wiki"))
	if err != nil {
		t.Fatalf("NewActivePointer returned error: %v", err)
	}

	engines := map[string]*syncdb.LocalEngine{}
	view := NewViewTracker(logger, 0)

	controller, err := session.NewController(session.Options{
		DataDir:      filepath.Join(dir, "wikis"),
		SignalingURL: "ws://localhost:8081",
		History:      store,
		Pointer:      pointer,
		Renderer:     markdown.New(markdown.WithSlugger(wiki.NormalizeSlug)),
		NewEngine: func(token string) (syncdb.Engine, error) {
			engine := syncdb.NewLocalEngine("peer-" + token)
			engines[token] = engine
			return engine, nil
		},
		Navigator: view,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewController returned error: %v", err)
	}
	t.Cleanup(func() { _ = controller.Close() })

	if open {
		if err := controller.Open(context.Background(), testToken); err != nil {
			t.Fatalf("Open returned error: %v", err)
		}
	}

	srv, err := NewServer(Options{
		Session:      controller,
		History:      store,
		View:         view,
		ShareBaseURL: "http://localhost:8080/",
		Logger:       logger,
		RateLimiter:  limits,
	})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, controller: controller, history: store, engines: engines}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal returned error: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decoding response %q returned error: %v", rec.Body.String(), err)
	}
}

func TestNewServerValidatesOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(Options{}); err == nil {
		t.Fatalf("expected error when session controller is missing")
	}
}

func TestRootRouteOpensWikiAndRedirects(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), false)

	rec := ts.do(t, "GET", "/?token=shared1&path=Notes.md", nil)
	if rec.Code != stdhttp.StatusFound {
		t.Fatalf("expected status 302, got %d", rec.Code)
	}
	if location := rec.Header().Get("Location"); location != "/wiki/notes" {
		t.Fatalf("expected redirect to /wiki/notes, got %q", location)
	}
	if token := ts.controller.Token(); token != "shared1" {
		t.Fatalf("expected wiki shared1 to be open, got %q", token)
	}
}

func TestRootRouteKeepsOpenWiki(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	rec := ts.do(t, "GET", "/", nil)
	if rec.Code != stdhttp.StatusFound {
		t.Fatalf("expected status 302, got %d", rec.Code)
	}
	if location := rec.Header().Get("Location"); location != "/wiki/home" {
		t.Fatalf("expected redirect to /wiki/home, got %q", location)
	}
	if token := ts.controller.Token(); token != testToken {
		t.Fatalf("expected wiki %q to stay open, got %q", testToken, token)
	}
}

func TestWikiRouteRendersHomePage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	rec := ts.do(t, "GET", "/wiki/home", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != htmlContentType {
		t.Fatalf("expected content type %q, got %q", htmlContentType, ct)
	}

	body := rec.Body.String()
	for _, want := range []string{"Welcome to Peer Wiki", testToken, "token=" + testToken} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %q, got %q", want, body)
		}
	}
	if slug := ts.controller.CurrentSlug(); slug != "home" {
		t.Fatalf("expected current slug home, got %q", slug)
	}
}

func TestWikiRouteRendersPlaceholderForMissingPage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	rec := ts.do(t, "GET", "/wiki/ideas", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ideas") {
		t.Fatalf("expected placeholder to mention slug, got %q", rec.Body.String())
	}
}

func TestWikiRouteWithoutOpenWikiReturns503(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), false)

	rec := ts.do(t, "GET", "/wiki/home", nil)
	if rec.Code != stdhttp.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != htmlContentType {
		t.Fatalf("expected content type %q, got %q", htmlContentType, ct)
	}
}

func TestSaveHistoryDiffAndRestoreThroughAPI(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	var first savePageOutput
	rec := ts.do(t, "PUT", "/api/pages/Notes", map[string]any{"content": "A\nB"})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200 saving v1, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeJSON(t, rec, &first.Body)
	if first.Body.Slug != "notes" || first.Body.Version == nil {
		t.Fatalf("unexpected save response: %+v", first.Body)
	}

	rec = ts.do(t, "PUT", "/api/pages/notes", map[string]any{"content": "A\nC"})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200 saving v2, got %d", rec.Code)
	}

	var hist historyOutput
	rec = ts.do(t, "GET", "/api/pages/notes/history", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200 for history, got %d", rec.Code)
	}
	decodeJSON(t, rec, &hist.Body)
	if len(hist.Body.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(hist.Body.Versions))
	}
	if hist.Body.Versions[0].Content != "A\nC" {
		t.Fatalf("expected newest version first, got %q", hist.Body.Versions[0].Content)
	}

	var changes diffOutput
	rec = ts.do(t, "GET", "/api/pages/notes/diff?from="+first.Body.Version.ID, nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200 for diff, got %d", rec.Code)
	}
	decodeJSON(t, rec, &changes.Body)
	if changes.Body.Added != 1 || changes.Body.Removed != 1 {
		t.Fatalf("expected +1 -1, got +%d -%d", changes.Body.Added, changes.Body.Removed)
	}

	revisionBefore, _ := ts.view.Snapshot()
	rec = ts.do(t, "POST", "/api/pages/notes/versions/"+first.Body.Version.ID+"/restore", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200 for restore, got %d: %s", rec.Code, rec.Body.String())
	}
	revisionAfter, path := ts.view.Snapshot()
	if revisionAfter <= revisionBefore || path != "notes" {
		t.Fatalf("expected restore to refresh notes, got revision %d path %q", revisionAfter, path)
	}

	var page pageBody
	rec = ts.do(t, "GET", "/api/pages/notes", nil)
	decodeJSON(t, rec, &page)
	if !page.Exists || page.Content != "A\nB" {
		t.Fatalf("expected restored content, got %+v", page)
	}

	rec = ts.do(t, "GET", "/api/pages/notes/history?limit=10", nil)
	decodeJSON(t, rec, &hist.Body)
	if len(hist.Body.Versions) != 3 {
		t.Fatalf("expected 3 versions after restore, got %d", len(hist.Body.Versions))
	}
}

func TestUnversionedSaveAddsNoHistory(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	rec := ts.do(t, "PUT", "/api/pages/draft", map[string]any{"content": "scratch", "versioned": false})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var hist historyOutput
	rec = ts.do(t, "GET", "/api/pages/draft/history", nil)
	decodeJSON(t, rec, &hist.Body)
	if len(hist.Body.Versions) != 0 {
		t.Fatalf("expected no versions, got %d", len(hist.Body.Versions))
	}
}

func TestVersionRoutesReturn404ForUnknownVersion(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	rec := ts.do(t, "GET", "/api/pages/home/versions/missing", nil)
	if rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	rec = ts.do(t, "GET", "/wiki/home/diff?from=missing", nil)
	if rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected status 404 for diff page, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != htmlContentType {
		t.Fatalf("expected content type %q, got %q", htmlContentType, ct)
	}
}

func TestHistoryAndDiffPagesRender(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)
	svc, err := ts.controller.Service()
	if err != nil {
		t.Fatalf("Service returned error: %v", err)
	}

	version, err := svc.SavePageWithVersion(context.Background(), "notes", "A\nB")
	if err != nil {
		t.Fatalf("SavePageWithVersion returned error: %v", err)
	}
	if _, err := svc.SavePageWithVersion(context.Background(), "notes", "A\nC"); err != nil {
		t.Fatalf("SavePageWithVersion returned error: %v", err)
	}

	rec := ts.do(t, "GET", "/wiki/notes/history", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/wiki/notes/diff?from="+version.ID) {
		t.Fatalf("expected history to link to diff, got %q", rec.Body.String())
	}

	rec = ts.do(t, "GET", "/wiki/notes/diff?from="+version.ID, nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "+1 -1") {
		t.Fatalf("expected diff stats in body, got %q", rec.Body.String())
	}
}

func TestSearchRoutes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)
	svc, err := ts.controller.Service()
	if err != nil {
		t.Fatalf("Service returned error: %v", err)
	}
	if err := svc.SavePage(context.Background(), "gardening", "Tomatoes need sun."); err != nil {
		t.Fatalf("SavePage returned error: %v", err)
	}

	var results searchOutput
	rec := ts.do(t, "GET", "/api/search?q=garden", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	decodeJSON(t, rec, &results.Body)
	if len(results.Body.Results) == 0 || results.Body.Results[0].Slug != "gardening" {
		t.Fatalf("expected gardening first, got %+v", results.Body.Results)
	}

	rec = ts.do(t, "GET", "/search?q=garden", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/wiki/gardening") {
		t.Fatalf("expected search page to link result, got %q", rec.Body.String())
	}
}

func TestImageUploadAndFetch(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	rec := ts.do(t, "POST", "/api/images", map[string]any{
		"data":     base64.StdEncoding.EncodeToString(png),
		"mimeType": "image/png",
		"name":     "dot.png",
	})
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var uploaded uploadImageOutput
	decodeJSON(t, rec, &uploaded.Body)
	if uploaded.Body.Ref != "img:"+uploaded.Body.ID {
		t.Fatalf("unexpected image ref %q for id %q", uploaded.Body.Ref, uploaded.Body.ID)
	}

	rec = ts.do(t, "GET", "/api/images/"+uploaded.Body.ID, nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), png) {
		t.Fatalf("expected stored bytes to round trip")
	}

	rec = ts.do(t, "GET", "/api/images/missing", nil)
	if rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestImageUploadRejectsInvalidImages(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	tooLarge := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, wiki.MaxImageBytes)...)
	rec := ts.do(t, "POST", "/api/images", map[string]any{
		"data":     base64.StdEncoding.EncodeToString(tooLarge),
		"mimeType": "image/png",
	})
	if rec.Code != stdhttp.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rec.Code)
	}

	rec = ts.do(t, "POST", "/api/images", map[string]any{
		"data":     base64.StdEncoding.EncodeToString([]byte("plain text, not an image")),
		"mimeType": "text/plain",
	})
	if rec.Code != stdhttp.StatusUnsupportedMediaType {
		t.Fatalf("expected status 415, got %d", rec.Code)
	}
}

func TestStatusReflectsPeersAndSync(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)
	engine := ts.engines[testToken]
	engine.Emit(syncdb.Event{Type: syncdb.EventPeerReady, PeerID: "peer-b"})
	engine.Emit(syncdb.Event{Type: syncdb.EventSync, PeerID: "peer-b", ChangeCount: 3})

	var status statusOutput
	rec := ts.do(t, "GET", "/api/status", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	decodeJSON(t, rec, &status.Body)

	if status.Body.Token != testToken {
		t.Fatalf("expected token %q, got %q", testToken, status.Body.Token)
	}
	if status.Body.PeerID != "peer-"+testToken {
		t.Fatalf("expected local peer id, got %q", status.Body.PeerID)
	}
	if status.Body.PeerLabel != "1 peer" || status.Body.StatusText != "Connected to 1 peer" {
		t.Fatalf("unexpected connection text %q / %q", status.Body.StatusText, status.Body.PeerLabel)
	}
	if status.Body.Notice != "Synced 3 changes" {
		t.Fatalf("expected sync notice, got %q", status.Body.Notice)
	}
	if status.Body.Revision == 0 {
		t.Fatalf("expected sync to bump the view revision")
	}
}

func TestEditSessionRoutes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	var edit beginEditOutput
	rec := ts.do(t, "POST", "/api/session/edit", map[string]any{"slug": "Ideas"})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	decodeJSON(t, rec, &edit.Body)
	if edit.Body.Slug != "ideas" || edit.Body.Draft != "# ideas\n\n" {
		t.Fatalf("unexpected edit response %+v", edit.Body)
	}

	rec = ts.do(t, "POST", "/api/session/cancel", map[string]any{"draft": "# ideas\n\nchanged"})
	if rec.Code != stdhttp.StatusConflict {
		t.Fatalf("expected status 409 for unsaved changes, got %d", rec.Code)
	}

	rec = ts.do(t, "POST", "/api/session/save", map[string]any{"content": "# ideas\n\nchanged"})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200 saving, got %d: %s", rec.Code, rec.Body.String())
	}
	if ts.controller.Editing() {
		t.Fatalf("expected save to leave edit mode")
	}

	rec = ts.do(t, "POST", "/api/session/save", map[string]any{"content": "again"})
	if rec.Code != stdhttp.StatusConflict {
		t.Fatalf("expected status 409 when not editing, got %d", rec.Code)
	}
}

func TestWikiManagementRoutes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	var created wikiOutput
	rec := ts.do(t, "POST", "/api/wikis", map[string]any{"name": "Recipes"})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeJSON(t, rec, &created.Body)
	if len(created.Body.Token) != history.TokenLength {
		t.Fatalf("expected %d character token, got %q", history.TokenLength, created.Body.Token)
	}
	if !strings.Contains(created.Body.ShareURL, "token="+created.Body.Token) {
		t.Fatalf("expected share url to carry token, got %q", created.Body.ShareURL)
	}

	var listed wikiListOutput
	rec = ts.do(t, "GET", "/api/wikis", nil)
	decodeJSON(t, rec, &listed.Body)
	if listed.Body.Active != created.Body.Token {
		t.Fatalf("expected new wiki to be active, got %q", listed.Body.Active)
	}
	if len(listed.Body.Wikis) != 2 || listed.Body.Wikis[0].Name != "Recipes" {
		t.Fatalf("unexpected visited wikis %+v", listed.Body.Wikis)
	}

	rec = ts.do(t, "POST", "/api/wikis/"+testToken+"/open", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200 reopening, got %d", rec.Code)
	}
	if token := ts.controller.Token(); token != testToken {
		t.Fatalf("expected %q to be open, got %q", testToken, token)
	}

	rec = ts.do(t, "DELETE", "/api/wikis/"+created.Body.Token, nil)
	if rec.Code != stdhttp.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}

	rec = ts.do(t, "GET", "/wikis", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), created.Body.Token) {
		t.Fatalf("expected forgotten wiki to be hidden, got %q", rec.Body.String())
	}
}

func TestShareRoute(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	var share shareOutput
	rec := ts.do(t, "GET", "/api/share", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	decodeJSON(t, rec, &share.Body)
	if share.Body.URL != "http://localhost:8080/?token="+testToken {
		t.Fatalf("unexpected share url %q", share.Body.URL)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)
	rec := ts.do(t, "GET", "/healthz", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	closed := newTestServer(t, defaultLimits(), false)
	rec = closed.do(t, "GET", "/healthz", nil)
	if rec.Code != stdhttp.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without an open wiki, got %d", rec.Code)
	}
}

func TestRateLimiterBlocksExcessRequests(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, RateLimiterSettings{RequestsPerSecond: 0.001, Burst: 1, ClientTTL: time.Minute}, true)

	rec := ts.do(t, "GET", "/api/status", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec = ts.do(t, "GET", "/api/status", nil)
	if rec.Code != stdhttp.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON rate limit body, got %q", ct)
	}

	rec = ts.do(t, "GET", "/wiki/home", nil)
	if rec.Code != stdhttp.StatusTooManyRequests {
		t.Fatalf("expected status 429 for page, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != htmlContentType {
		t.Fatalf("expected HTML rate limit page, got %q", ct)
	}
}

func TestOpenAPIDescribesRoutes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), false)
	paths := ts.API().OpenAPI().Paths

	for _, path := range []string{"/api/pages/{slug}", "/api/images", "/api/status", "/wiki/{slug}", "/healthz"} {
		if _, ok := paths[path]; !ok {
			t.Fatalf("expected OpenAPI document to describe %s", path)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, defaultLimits(), true)

	incoming := uuid.NewString()
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", incoming)
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != incoming {
		t.Fatalf("expected incoming request id to be kept, got %q", got)
	}

	req = httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	got := rec.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(got); err != nil || got == "not-a-uuid" {
		t.Fatalf("expected a generated request id, got %q", got)
	}

	if id := requestIDFrom(context.Background()); id != "" {
		t.Fatalf("expected empty request id without middleware, got %q", id)
	}
}
