package http

import (
	"context"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/connstate"
	"peerwiki/app/internal/diff"
	"peerwiki/app/internal/history"
	"peerwiki/app/internal/http/templates"
	"peerwiki/app/internal/search"
	"peerwiki/app/internal/wiki"
)

const htmlContentType = "text/html; charset=utf-8"

type htmlResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Location    string `header:"Location"`
	Body        []byte
}

type rootInput struct {
	Token string `query:"token"`
	Path  string `query:"path"`
}

type wikiInput struct {
	Slug string `path:"slug"`
}

type diffInput struct {
	Slug string `path:"slug"`
	From string `query:"from"`
	To   string `query:"to"`
}

type searchInput struct {
	Query string `query:"q"`
}

func (s *Server) registerPageRoutes() {
	huma.Get(s.api, "/", s.rootHandler, htmlOperation("Open a wiki", stdhttp.StatusFound, stdhttp.StatusInternalServerError))
	huma.Get(s.api, "/wiki/{slug}", s.wikiHandler, htmlOperation(
		"View a wiki page",
		stdhttp.StatusInternalServerError,
		stdhttp.StatusServiceUnavailable,
	))
	huma.Get(s.api, "/wiki/{slug}/history", s.historyHandler, htmlOperation(
		"View page history",
		stdhttp.StatusInternalServerError,
		stdhttp.StatusServiceUnavailable,
	))
	huma.Get(s.api, "/wiki/{slug}/diff", s.diffHandler, htmlOperation(
		"Compare page versions",
		stdhttp.StatusNotFound,
		stdhttp.StatusInternalServerError,
		stdhttp.StatusServiceUnavailable,
	))
	huma.Get(s.api, "/search", s.searchHandler, htmlOperation(
		"Search pages",
		stdhttp.StatusInternalServerError,
		stdhttp.StatusServiceUnavailable,
	))
	huma.Get(s.api, "/wikis", s.wikisHandler, htmlOperation(
		"List visited wikis",
		stdhttp.StatusInternalServerError,
	))
}

// rootHandler opens the wiki named by ?token= (or the active one, or a new
// one) and redirects to the requested page.
func (s *Server) rootHandler(ctx context.Context, input *rootInput) (*htmlResponse, error) {
	if err := s.ensureWiki(ctx, input.Token); err != nil {
		s.recordError(ctx, err, "opening wiki", logrus.Fields{"token": input.Token})
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, "We couldn't open that wiki.")
	}

	response := newHTMLResponse(stdhttp.StatusFound, nil)
	response.Location = "/wiki/" + url.PathEscape(wiki.NormalizeSlug(input.Path))
	return response, nil
}

func (s *Server) ensureWiki(ctx context.Context, requested string) error {
	requested = strings.TrimSpace(requested)
	current := s.session.Token()

	if requested == "" && current != "" {
		return nil
	}
	if requested != "" && requested == current {
		return nil
	}

	token, err := s.session.ResolveToken(requested)
	if err != nil {
		return err
	}
	return s.session.Open(ctx, token)
}

func (s *Server) wikiHandler(ctx context.Context, input *wikiInput) (*htmlResponse, error) {
	svc, err := s.session.Service()
	if err != nil {
		status, message := classifyError(err)
		return s.renderErrorResponse(ctx, status, message)
	}

	slug := s.session.Navigate(input.Slug)
	html, err := svc.RenderPage(ctx, slug)
	status := stdhttp.StatusOK
	if err != nil {
		s.recordError(ctx, err, "loading wiki page", logrus.Fields{"slug": slug})
		if html == "" {
			return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, errorFallbackMessage)
		}
		status = stdhttp.StatusInternalServerError
	}

	_, lookupErr := svc.LookupPage(ctx, slug)
	shareURL, _ := history.ShareLink(s.shareBaseURL, s.session.Token())

	body, err := renderComponent(ctx, templates.WikiPage(templates.WikiPageData{
		Slug:     slug,
		HTML:     html,
		Exists:   lookupErr == nil,
		ShareURL: shareURL,
		Status:   s.statusView(),
	}))
	if err != nil {
		s.recordError(ctx, err, "rendering wiki page", logrus.Fields{"slug": slug})
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, errorFallbackMessage)
	}

	return newHTMLResponse(status, body), nil
}

func (s *Server) historyHandler(ctx context.Context, input *wikiInput) (*htmlResponse, error) {
	svc, err := s.session.Service()
	if err != nil {
		status, message := classifyError(err)
		return s.renderErrorResponse(ctx, status, message)
	}

	slug := wiki.NormalizeSlug(input.Slug)
	versions, err := svc.GetHistory(ctx, slug, 0)
	if err != nil {
		s.recordError(ctx, err, "loading page history", logrus.Fields{"slug": slug})
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, errorFallbackMessage)
	}

	data := templates.HistoryPageData{Slug: slug, Status: s.statusView()}
	for _, version := range versions {
		data.Versions = append(data.Versions, templates.HistoryEntryView{
			ID:        version.ID,
			CreatedAt: version.CreatedAt.UTC().Format(time.RFC3339),
			PeerID:    version.PeerID,
			Preview:   search.Preview(version.Content, ""),
		})
	}

	return s.renderPage(ctx, templates.HistoryPage(data), "rendering history page")
}

func (s *Server) diffHandler(ctx context.Context, input *diffInput) (*htmlResponse, error) {
	svc, err := s.session.Service()
	if err != nil {
		status, message := classifyError(err)
		return s.renderErrorResponse(ctx, status, message)
	}

	slug := wiki.NormalizeSlug(input.Slug)
	lines, err := svc.DiffVersions(ctx, slug, input.From, input.To)
	if err != nil {
		status, message := classifyError(err)
		if status >= stdhttp.StatusInternalServerError {
			s.recordError(ctx, err, "diffing versions", logrus.Fields{"slug": slug})
		}
		return s.renderErrorResponse(ctx, status, message)
	}

	added, removed := diff.Stats(lines)
	data := templates.DiffPageData{
		Slug:    slug,
		FromID:  input.From,
		ToLabel: "the current page",
		Added:   added,
		Removed: removed,
		Status:  s.statusView(),
	}
	if strings.TrimSpace(input.To) != "" {
		data.ToLabel = "version " + input.To
	}
	for _, line := range lines {
		data.Lines = append(data.Lines, templates.DiffLineView{Kind: string(line.Type), Text: line.Text})
	}

	return s.renderPage(ctx, templates.DiffPage(data), "rendering diff page")
}

func (s *Server) searchHandler(ctx context.Context, input *searchInput) (*htmlResponse, error) {
	svc, err := s.session.Service()
	if err != nil {
		status, message := classifyError(err)
		return s.renderErrorResponse(ctx, status, message)
	}

	query := strings.TrimSpace(input.Query)
	data := templates.SearchPageData{Query: query, Status: s.statusView()}

	results, err := svc.Search(ctx, query)
	if err != nil {
		s.recordError(ctx, err, "search request failed", logrus.Fields{"query": query})
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, "We couldn't search right now.")
	}

	for _, result := range results {
		data.Results = append(data.Results, templates.SearchResultView{
			Slug:        result.Slug,
			URL:         "/wiki/" + url.PathEscape(result.Slug),
			SlugMatches: result.SlugMatches,
			Preview:     result.Preview,
		})
	}

	return s.renderPage(ctx, templates.SearchPage(data), "rendering search page")
}

func (s *Server) wikisHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	entries, err := s.history.ListVisited(ctx)
	if err != nil {
		s.recordError(ctx, err, "listing visited wikis", nil)
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, errorFallbackMessage)
	}

	active := s.session.Token()
	data := templates.WikisPageData{Status: s.statusView()}
	for _, entry := range entries {
		data.Entries = append(data.Entries, templates.WikiEntryView{
			Token:       entry.Token,
			Name:        entry.Name,
			LastVisited: entry.LastVisited.UTC().Format(time.RFC3339),
			OpenURL:     "/?token=" + url.QueryEscape(entry.Token),
			Active:      entry.Token == active,
		})
	}

	return s.renderPage(ctx, templates.WikisPage(data), "rendering wikis page")
}

func (s *Server) renderPage(ctx context.Context, page templ.Component, action string) (*htmlResponse, error) {
	body, err := renderComponent(ctx, page)
	if err != nil {
		s.recordError(ctx, err, action, nil)
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, errorFallbackMessage)
	}
	return newHTMLResponse(stdhttp.StatusOK, body), nil
}

func (s *Server) statusView() templates.StatusView {
	state := s.session.State()
	notice := s.session.Notice()
	revision, _ := s.view.Snapshot()

	return templates.StatusView{
		Token:      s.session.Token(),
		Connection: state.StatusText(),
		PeerLabel:  connstate.PeerLabel(state.PeerCount),
		Connected:  state.PeerCount > 0,
		Notice:     notice.Message,
		NoticeKind: string(notice.Kind),
		Revision:   revision,
	}
}

func newHTMLResponse(status int, body []byte) *htmlResponse {
	return &htmlResponse{
		Status:      status,
		ContentType: htmlContentType,
		Body:        body,
	}
}

func htmlOperation(summary string, statuses ...int) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		if summary != "" {
			op.Summary = summary
		}
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}

		statusCodes := append([]int{stdhttp.StatusOK}, statuses...)
		for _, status := range statusCodes {
			op.Responses[strconv.Itoa(status)] = &huma.Response{
				Description: stdhttp.StatusText(status),
				Content: map[string]*huma.MediaType{
					htmlContentType: {
						Schema: &huma.Schema{Type: "string"},
					},
				},
			}
		}
	}
}
