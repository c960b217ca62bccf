package http

import (
	"context"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/connstate"
	"peerwiki/app/internal/diff"
	"peerwiki/app/internal/history"
	"peerwiki/app/internal/search"
	"peerwiki/app/internal/wiki"
)

// maxUploadBytes bounds the JSON body of an image upload. The base64 payload
// of the largest accepted image fits with room to spare, so oversized images
// reach the service and are rejected with 413.
const maxUploadBytes = 4 << 20

type pageBody struct {
	Slug      string    `json:"slug"`
	Content   string    `json:"content"`
	HTML      string    `json:"html,omitempty"`
	Exists    bool      `json:"exists"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

type pageOutput struct {
	Body pageBody
}

type pageListOutput struct {
	Body struct {
		Pages []pageBody `json:"pages"`
	}
}

type savePageInput struct {
	Slug string `path:"slug"`
	Body struct {
		Content string `json:"content"`
		// Versioned defaults to true; false stores content without a history entry.
		Versioned *bool `json:"versioned,omitempty" required:"false"`
	}
}

type savePageOutput struct {
	Body struct {
		Slug    string            `json:"slug"`
		Version *wiki.PageVersion `json:"version,omitempty"`
	}
}

type historyInput struct {
	Slug  string `path:"slug"`
	Limit int    `query:"limit" minimum:"0" maximum:"500"`
}

type historyOutput struct {
	Body struct {
		Versions []wiki.PageVersion `json:"versions"`
	}
}

type versionInput struct {
	Slug string `path:"slug"`
	ID   string `path:"id"`
}

type versionOutput struct {
	Body *wiki.PageVersion
}

type diffOutput struct {
	Body struct {
		Added   int         `json:"added"`
		Removed int         `json:"removed"`
		Lines   []diff.Line `json:"lines"`
	}
}

type searchOutput struct {
	Body struct {
		Results []search.Result `json:"results"`
	}
}

type uploadImageInput struct {
	Body struct {
		Data     []byte `json:"data" doc:"Base64 encoded image bytes"`
		MimeType string `json:"mimeType,omitempty" required:"false"`
		Name     string `json:"name,omitempty" required:"false"`
	}
}

type uploadImageOutput struct {
	Status int
	Body   struct {
		ID  string `json:"id"`
		Ref string `json:"ref"`
	}
}

type imageInput struct {
	ID string `path:"id"`
}

type imageOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

type statusOutput struct {
	Body struct {
		Token      string          `json:"token"`
		PeerID     string          `json:"peerId,omitempty"`
		State      connstate.State `json:"state"`
		StatusText string          `json:"statusText"`
		PeerLabel  string          `json:"peerLabel"`
		Notice     string          `json:"notice,omitempty"`
		NoticeKind string          `json:"noticeKind,omitempty"`
		Slug       string          `json:"slug"`
		Editing    bool            `json:"editing"`
		Revision   uint64          `json:"revision"`
	}
}

type wikiListOutput struct {
	Body struct {
		Active string          `json:"active"`
		Wikis  []history.Entry `json:"wikis"`
	}
}

type createWikiInput struct {
	Body struct {
		Name string `json:"name,omitempty" required:"false"`
	}
}

type tokenInput struct {
	Token string `path:"token"`
}

type wikiOutput struct {
	Body struct {
		Token    string `json:"token"`
		ShareURL string `json:"shareUrl"`
	}
}

type shareOutput struct {
	Body struct {
		URL string `json:"url"`
	}
}

type beginEditInput struct {
	Body struct {
		Slug string `json:"slug"`
	}
}

type beginEditOutput struct {
	Body struct {
		Slug  string `json:"slug"`
		Draft string `json:"draft"`
	}
}

type cancelEditInput struct {
	Body struct {
		Draft   string `json:"draft"`
		Discard bool   `json:"discard,omitempty" required:"false"`
	}
}

type sessionSaveInput struct {
	Body struct {
		Content string `json:"content"`
	}
}

type restoreInput struct {
	Slug string `path:"slug"`
	ID   string `path:"id"`
}

type healthResponse struct {
	Status int
	Body   struct {
		Status     string `json:"status"`
		Database   string `json:"database"`
		Connection string `json:"connection"`
	}
}

func (s *Server) registerAPIRoutes() {
	huma.Get(s.api, "/api/pages", s.listPagesHandler, summary("List pages"))
	huma.Get(s.api, "/api/pages/{slug}", s.getPageHandler, summary("Get a page"))
	huma.Put(s.api, "/api/pages/{slug}", s.savePageHandler, summary("Save a page"))
	huma.Get(s.api, "/api/pages/{slug}/history", s.pageHistoryHandler, summary("List page versions"))
	huma.Get(s.api, "/api/pages/{slug}/versions/{id}", s.getVersionHandler, summary("Get a page version"))
	huma.Get(s.api, "/api/pages/{slug}/diff", s.diffAPIHandler, summary("Diff page versions"))
	huma.Post(s.api, "/api/pages/{slug}/versions/{id}/restore", s.restoreHandler, summary("Restore a page version"))
	huma.Get(s.api, "/api/search", s.searchAPIHandler, summary("Search pages"))

	huma.Register(s.api, huma.Operation{
		OperationID:   "upload-image",
		Method:        stdhttp.MethodPost,
		Path:          "/api/images",
		Summary:       "Upload an image",
		DefaultStatus: stdhttp.StatusCreated,
		MaxBodyBytes:  maxUploadBytes,
	}, s.uploadImageHandler)
	huma.Get(s.api, "/api/images/{id}", s.getImageHandler, summary("Fetch an image"))

	huma.Get(s.api, "/api/status", s.statusHandler, summary("Session status"))
	huma.Get(s.api, "/api/share", s.shareHandler, summary("Share link of the open wiki"))
	huma.Get(s.api, "/api/wikis", s.listWikisHandler, summary("List visited wikis"))
	huma.Post(s.api, "/api/wikis", s.createWikiHandler, summary("Create and open a wiki"))
	huma.Post(s.api, "/api/wikis/{token}/open", s.openWikiHandler, summary("Open a wiki"))
	huma.Delete(s.api, "/api/wikis/{token}", s.forgetWikiHandler, summary("Forget a visited wiki"))

	huma.Post(s.api, "/api/session/edit", s.beginEditHandler, summary("Begin editing a page"))
	huma.Post(s.api, "/api/session/cancel", s.cancelEditHandler, summary("Cancel editing"))
	huma.Post(s.api, "/api/session/save", s.sessionSaveHandler, summary("Save the edited page"))

	huma.Get(s.api, "/healthz", s.healthHandler, summary("Health check"))
}

func summary(text string) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		op.Summary = text
	}
}

func (s *Server) listPagesHandler(ctx context.Context, _ *struct{}) (*pageListOutput, error) {
	svc, err := s.session.Service()
	if err != nil {
		return nil, s.apiError(ctx, err, "listing pages", nil)
	}

	pages, err := svc.ListPages(ctx)
	if err != nil {
		return nil, s.apiError(ctx, err, "listing pages", nil)
	}

	out := &pageListOutput{}
	out.Body.Pages = make([]pageBody, 0, len(pages))
	for _, page := range pages {
		out.Body.Pages = append(out.Body.Pages, pageBody{Slug: page.Slug, Content: page.Content, Exists: true, UpdatedAt: page.UpdatedAt})
	}
	return out, nil
}

// getPageHandler resolves a page the way the viewer does: a missing page
// yields the placeholder content with exists set to false.
func (s *Server) getPageHandler(ctx context.Context, input *wikiInput) (*pageOutput, error) {
	svc, err := s.session.Service()
	if err != nil {
		return nil, s.apiError(ctx, err, "loading page", nil)
	}

	slug := wiki.NormalizeSlug(input.Slug)
	fields := logrus.Fields{"slug": slug}

	content, err := svc.GetPage(ctx, slug)
	if err != nil {
		return nil, s.apiError(ctx, err, "loading page", fields)
	}

	html, err := svc.RenderPage(ctx, slug)
	if err != nil {
		return nil, s.apiError(ctx, err, "rendering page", fields)
	}

	out := &pageOutput{Body: pageBody{Slug: slug, Content: content, HTML: html}}
	if page, lookupErr := svc.LookupPage(ctx, slug); lookupErr == nil {
		out.Body.Exists = true
		out.Body.UpdatedAt = page.UpdatedAt
	}
	return out, nil
}

func (s *Server) savePageHandler(ctx context.Context, input *savePageInput) (*savePageOutput, error) {
	svc, err := s.session.Service()
	if err != nil {
		return nil, s.apiError(ctx, err, "saving page", nil)
	}

	slug := wiki.NormalizeSlug(input.Slug)
	fields := logrus.Fields{"slug": slug}
	out := &savePageOutput{}
	out.Body.Slug = slug

	if input.Body.Versioned != nil && !*input.Body.Versioned {
		if err := svc.SavePage(ctx, slug, input.Body.Content); err != nil {
			return nil, s.apiError(ctx, err, "saving page", fields)
		}
		return out, nil
	}

	version, err := svc.SavePageWithVersion(ctx, slug, input.Body.Content)
	if err != nil {
		return nil, s.apiError(ctx, err, "saving page version", fields)
	}
	out.Body.Version = version
	return out, nil
}

func (s *Server) pageHistoryHandler(ctx context.Context, input *historyInput) (*historyOutput, error) {
	svc, err := s.session.Service()
	if err != nil {
		return nil, s.apiError(ctx, err, "loading history", nil)
	}

	versions, err := svc.GetHistory(ctx, input.Slug, input.Limit)
	if err != nil {
		return nil, s.apiError(ctx, err, "loading history", logrus.Fields{"slug": input.Slug})
	}

	out := &historyOutput{}
	out.Body.Versions = versions
	return out, nil
}

func (s *Server) getVersionHandler(ctx context.Context, input *versionInput) (*versionOutput, error) {
	svc, err := s.session.Service()
	if err != nil {
		return nil, s.apiError(ctx, err, "loading version", nil)
	}

	version, err := svc.GetVersion(ctx, input.Slug, input.ID)
	if err != nil {
		return nil, s.apiError(ctx, err, "loading version", logrus.Fields{"slug": input.Slug, "version_id": input.ID})
	}
	return &versionOutput{Body: version}, nil
}

func (s *Server) diffAPIHandler(ctx context.Context, input *diffInput) (*diffOutput, error) {
	svc, err := s.session.Service()
	if err != nil {
		return nil, s.apiError(ctx, err, "diffing versions", nil)
	}

	if strings.TrimSpace(input.From) == "" {
		return nil, huma.Error400BadRequest("query parameter from is required")
	}

	lines, err := svc.DiffVersions(ctx, input.Slug, input.From, input.To)
	if err != nil {
		return nil, s.apiError(ctx, err, "diffing versions", logrus.Fields{"slug": input.Slug})
	}

	out := &diffOutput{}
	out.Body.Lines = lines
	if out.Body.Lines == nil {
		out.Body.Lines = []diff.Line{}
	}
	out.Body.Added, out.Body.Removed = diff.Stats(lines)
	return out, nil
}

// restoreHandler restores through the session so the open view refreshes.
// Restoring a page other than the current one navigates to it first.
func (s *Server) restoreHandler(ctx context.Context, input *restoreInput) (*versionOutput, error) {
	s.session.Navigate(input.Slug)

	version, err := s.session.Restore(ctx, input.ID)
	if err != nil {
		return nil, s.apiError(ctx, err, "restoring version", logrus.Fields{"slug": input.Slug, "version_id": input.ID})
	}
	return &versionOutput{Body: version}, nil
}

func (s *Server) searchAPIHandler(ctx context.Context, input *searchInput) (*searchOutput, error) {
	svc, err := s.session.Service()
	if err != nil {
		return nil, s.apiError(ctx, err, "searching", nil)
	}

	results, err := svc.Search(ctx, input.Query)
	if err != nil {
		return nil, s.apiError(ctx, err, "searching", logrus.Fields{"query": input.Query})
	}

	out := &searchOutput{}
	out.Body.Results = results
	return out, nil
}

func (s *Server) uploadImageHandler(ctx context.Context, input *uploadImageInput) (*uploadImageOutput, error) {
	svc, err := s.session.Service()
	if err != nil {
		return nil, s.apiError(ctx, err, "uploading image", nil)
	}

	id, err := svc.SaveImage(ctx, input.Body.Data, input.Body.MimeType, input.Body.Name)
	if err != nil {
		return nil, s.apiError(ctx, err, "uploading image", logrus.Fields{"name": input.Body.Name})
	}

	out := &uploadImageOutput{Status: stdhttp.StatusCreated}
	out.Body.ID = id
	out.Body.Ref = wiki.ImageRef(id)
	return out, nil
}

func (s *Server) getImageHandler(ctx context.Context, input *imageInput) (*imageOutput, error) {
	svc, err := s.session.Service()
	if err != nil {
		return nil, s.apiError(ctx, err, "loading image", nil)
	}

	image, err := svc.GetImage(ctx, input.ID)
	if err != nil {
		return nil, s.apiError(ctx, err, "loading image", logrus.Fields{"image_id": input.ID})
	}

	raw, mediaType, err := wiki.DecodeImage(image)
	if err != nil {
		return nil, s.apiError(ctx, err, "decoding image", logrus.Fields{"image_id": input.ID})
	}

	return &imageOutput{
		ContentType:  mediaType,
		CacheControl: "private, max-age=31536000, immutable",
		Body:         raw,
	}, nil
}

func (s *Server) statusHandler(_ context.Context, _ *struct{}) (*statusOutput, error) {
	state := s.session.State()
	notice := s.session.Notice()
	revision, _ := s.view.Snapshot()

	out := &statusOutput{}
	out.Body.Token = s.session.Token()
	if engine := s.session.Engine(); engine != nil {
		out.Body.PeerID = engine.PeerID()
	}
	out.Body.State = state
	out.Body.StatusText = state.StatusText()
	out.Body.PeerLabel = connstate.PeerLabel(state.PeerCount)
	out.Body.Notice = notice.Message
	out.Body.NoticeKind = string(notice.Kind)
	out.Body.Slug = s.session.CurrentSlug()
	out.Body.Editing = s.session.Editing()
	out.Body.Revision = revision
	return out, nil
}

func (s *Server) shareHandler(ctx context.Context, _ *struct{}) (*shareOutput, error) {
	token := s.session.Token()
	if token == "" {
		return nil, huma.Error503ServiceUnavailable("No wiki is open.")
	}

	link, err := history.ShareLink(s.shareBaseURL, token)
	if err != nil {
		return nil, s.apiError(ctx, err, "building share link", nil)
	}

	out := &shareOutput{}
	out.Body.URL = link
	return out, nil
}

func (s *Server) listWikisHandler(ctx context.Context, _ *struct{}) (*wikiListOutput, error) {
	entries, err := s.history.ListVisited(ctx)
	if err != nil {
		return nil, s.apiError(ctx, err, "listing wikis", nil)
	}

	out := &wikiListOutput{}
	out.Body.Active = s.session.Token()
	out.Body.Wikis = entries
	return out, nil
}

func (s *Server) createWikiHandler(ctx context.Context, input *createWikiInput) (*wikiOutput, error) {
	token := history.NewToken()
	if err := s.session.Open(ctx, token); err != nil {
		return nil, s.apiError(ctx, err, "creating wiki", logrus.Fields{"token": token})
	}

	if name := strings.TrimSpace(input.Body.Name); name != "" {
		if err := s.history.RecordVisit(ctx, token, name); err != nil {
			return nil, s.apiError(ctx, err, "naming wiki", logrus.Fields{"token": token})
		}
	}

	return s.wikiOutput(ctx, token)
}

func (s *Server) openWikiHandler(ctx context.Context, input *tokenInput) (*wikiOutput, error) {
	if err := s.ensureWiki(ctx, input.Token); err != nil {
		return nil, s.apiError(ctx, err, "opening wiki", logrus.Fields{"token": input.Token})
	}
	return s.wikiOutput(ctx, s.session.Token())
}

func (s *Server) forgetWikiHandler(ctx context.Context, input *tokenInput) (*struct{}, error) {
	if err := s.history.Forget(ctx, input.Token); err != nil {
		return nil, s.apiError(ctx, err, "forgetting wiki", logrus.Fields{"token": input.Token})
	}
	return nil, nil
}

func (s *Server) wikiOutput(ctx context.Context, token string) (*wikiOutput, error) {
	link, err := history.ShareLink(s.shareBaseURL, token)
	if err != nil {
		return nil, s.apiError(ctx, err, "building share link", nil)
	}

	out := &wikiOutput{}
	out.Body.Token = token
	out.Body.ShareURL = link
	return out, nil
}

func (s *Server) beginEditHandler(ctx context.Context, input *beginEditInput) (*beginEditOutput, error) {
	slug := s.session.Navigate(input.Body.Slug)

	draft, err := s.session.BeginEdit(ctx)
	if err != nil {
		return nil, s.apiError(ctx, err, "beginning edit", logrus.Fields{"slug": slug})
	}

	out := &beginEditOutput{}
	out.Body.Slug = slug
	out.Body.Draft = draft
	return out, nil
}

func (s *Server) cancelEditHandler(ctx context.Context, input *cancelEditInput) (*struct{}, error) {
	if err := s.session.CancelEdit(input.Body.Draft, input.Body.Discard); err != nil {
		return nil, s.apiError(ctx, err, "cancelling edit", nil)
	}
	return nil, nil
}

func (s *Server) sessionSaveHandler(ctx context.Context, input *sessionSaveInput) (*versionOutput, error) {
	version, err := s.session.Save(ctx, input.Body.Content)
	if err != nil {
		return nil, s.apiError(ctx, err, "saving page", logrus.Fields{"slug": s.session.CurrentSlug()})
	}
	return &versionOutput{Body: version}, nil
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{Status: stdhttp.StatusOK}
	resp.Body.Status = "ok"
	resp.Body.Database = "ok"
	resp.Body.Connection = string(s.session.State().Status)

	if err := s.session.Ping(ctx); err != nil {
		s.recordError(ctx, err, "pinging wiki database", nil)
		resp.Status = stdhttp.StatusServiceUnavailable
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
	}

	return resp, nil
}
