package wiki

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/diff"
	"peerwiki/app/internal/search"
)

// DefaultHistoryLimit is the number of versions returned when no limit is given.
const DefaultHistoryLimit = 50

var (
	// ErrPageNotFound indicates that no page is stored under a slug.
	ErrPageNotFound = eris.New("page not found")
	// ErrVersionNotFound indicates that a version does not exist for a page.
	ErrVersionNotFound = eris.New("page version not found")
)

// Renderer turns markdown into HTML.
type Renderer interface {
	Render(markdown string) (string, error)
}

// PeerIdentifier reports the identity this client uses in the sync engine.
type PeerIdentifier interface {
	PeerID() string
}

// Service defines the document store operations used by the session and the
// HTTP layer.
type Service interface {
	GetPage(ctx context.Context, slug string) (string, error)
	LookupPage(ctx context.Context, slug string) (*Page, error)
	SavePage(ctx context.Context, slug string, content string) error
	SavePageWithVersion(ctx context.Context, slug string, content string) (*PageVersion, error)
	GetHistory(ctx context.Context, slug string, limit int) ([]PageVersion, error)
	GetVersion(ctx context.Context, slug string, id string) (*PageVersion, error)
	DiffVersions(ctx context.Context, slug string, fromID string, toID string) ([]diff.Line, error)
	RestoreVersion(ctx context.Context, slug string, versionID string) (*PageVersion, error)
	ListPages(ctx context.Context) ([]Page, error)
	Search(ctx context.Context, query string) ([]search.Result, error)
	SaveImage(ctx context.Context, data []byte, mimeType string, name string) (string, error)
	GetImage(ctx context.Context, id string) (*Image, error)
	ResolveImageRefs(ctx context.Context, html string) string
	RenderPage(ctx context.Context, slug string) (string, error)
	EnsureHomePage(ctx context.Context, token string) error
}

type service struct {
	repo      Repository
	renderer  Renderer
	peers     PeerIdentifier
	logger    *logrus.Logger
	sentryHub *sentry.Hub
	now       func() time.Time
}

var _ Service = (*service)(nil)

// NewService wires the wiki service with its dependencies. peers may be nil,
// in which case versions are attributed to LocalPeerID.
func NewService(repo Repository, renderer Renderer, peers PeerIdentifier, logger *logrus.Logger, hub *sentry.Hub) (Service, error) {
	if repo == nil {
		return nil, eris.New("wiki repository is required")
	}
	if renderer == nil {
		return nil, eris.New("markdown renderer is required")
	}

	return &service{
		repo:      repo,
		renderer:  renderer,
		peers:     peers,
		logger:    logger,
		sentryHub: hub,
		now:       time.Now,
	}, nil
}

// MissingPageContent is the placeholder shown for slugs without a page.
func MissingPageContent(slug string) string {
	return fmt.Sprintf("# %s\n\nThis page doesn't exist yet. Click **Edit** to create it.", slug)
}

// ErrorPageContent is the page shown when a page cannot be loaded.
func ErrorPageContent(err error) string {
	return fmt.Sprintf("# Error\n\nFailed to load page: %s", err.Error())
}

// GetPage resolves slug to markdown. A missing page yields the placeholder
// with a nil error; a storage failure yields the error page together with the
// error, so callers can always display something.
func (s *service) GetPage(ctx context.Context, slug string) (string, error) {
	normalized := NormalizeSlug(slug)

	page, err := s.repo.GetBySlug(ctx, normalized)
	if err != nil {
		s.recordError(logrus.Fields{"slug": normalized}, err, "loading page")
		wrapped := eris.Wrapf(err, "loading page: %s", normalized)
		return ErrorPageContent(wrapped), wrapped
	}

	if page == nil {
		return MissingPageContent(normalized), nil
	}

	return page.Content, nil
}

func (s *service) LookupPage(ctx context.Context, slug string) (*Page, error) {
	normalized := NormalizeSlug(slug)

	page, err := s.repo.GetBySlug(ctx, normalized)
	if err != nil {
		s.recordError(logrus.Fields{"slug": normalized}, err, "loading page")
		return nil, eris.Wrapf(err, "loading page: %s", normalized)
	}
	if page == nil {
		return nil, eris.Wrapf(ErrPageNotFound, "slug %s", normalized)
	}

	return page, nil
}

func (s *service) SavePage(ctx context.Context, slug string, content string) error {
	page := &Page{Slug: NormalizeSlug(slug), Content: content, UpdatedAt: s.now().UTC()}

	if err := s.repo.Upsert(ctx, page); err != nil {
		s.recordError(logrus.Fields{"slug": page.Slug}, err, "saving page")
		return eris.Wrapf(err, "saving page: %s", page.Slug)
	}

	return nil
}

// SavePageWithVersion stores content and appends a new version, even when the
// content did not change since the previous save.
func (s *service) SavePageWithVersion(ctx context.Context, slug string, content string) (*PageVersion, error) {
	now := s.now().UTC()
	page := &Page{Slug: NormalizeSlug(slug), Content: content, UpdatedAt: now}
	version := &PageVersion{
		ID:        uuid.NewString(),
		Slug:      page.Slug,
		Content:   content,
		CreatedAt: now,
		PeerID:    s.peerID(),
	}

	if err := s.repo.UpsertWithVersion(ctx, page, version); err != nil {
		s.recordError(logrus.Fields{"slug": page.Slug}, err, "saving page version")
		return nil, eris.Wrapf(err, "saving page version: %s", page.Slug)
	}

	return version, nil
}

func (s *service) GetHistory(ctx context.Context, slug string, limit int) ([]PageVersion, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	normalized := NormalizeSlug(slug)
	versions, err := s.repo.ListVersions(ctx, normalized, limit)
	if err != nil {
		s.recordError(logrus.Fields{"slug": normalized}, err, "loading page history")
		return nil, eris.Wrapf(err, "loading page history: %s", normalized)
	}

	return versions, nil
}

// GetVersion returns version id of slug. A version belonging to another page
// is reported as not found.
func (s *service) GetVersion(ctx context.Context, slug string, id string) (*PageVersion, error) {
	normalized := NormalizeSlug(slug)

	version, err := s.repo.GetVersion(ctx, id)
	if err != nil {
		s.recordError(logrus.Fields{"slug": normalized, "version_id": id}, err, "loading page version")
		return nil, eris.Wrapf(err, "loading page version: %s", id)
	}
	if version == nil || version.Slug != normalized {
		return nil, eris.Wrapf(ErrVersionNotFound, "version %s of %s", id, normalized)
	}

	return version, nil
}

// DiffVersions compares two versions of slug. An empty toID compares against
// the live page content.
func (s *service) DiffVersions(ctx context.Context, slug string, fromID string, toID string) ([]diff.Line, error) {
	from, err := s.GetVersion(ctx, slug, fromID)
	if err != nil {
		return nil, err
	}

	var target string
	if strings.TrimSpace(toID) == "" {
		page, err := s.LookupPage(ctx, slug)
		if err != nil {
			return nil, err
		}
		target = page.Content
	} else {
		to, err := s.GetVersion(ctx, slug, toID)
		if err != nil {
			return nil, err
		}
		target = to.Content
	}

	return diff.Lines(from.Content, target), nil
}

// RestoreVersion makes a past version the live content. The restore is an
// explicit save, so it appends a new version.
func (s *service) RestoreVersion(ctx context.Context, slug string, versionID string) (*PageVersion, error) {
	version, err := s.GetVersion(ctx, slug, versionID)
	if err != nil {
		return nil, err
	}

	restored, err := s.SavePageWithVersion(ctx, version.Slug, version.Content)
	if err != nil {
		return nil, eris.Wrapf(err, "restoring version %s", versionID)
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"component":     "wiki.history",
			"slug":          version.Slug,
			"restored_from": version.ID,
			"version_id":    restored.ID,
		}).Info("restored page version")
	}

	return restored, nil
}

func (s *service) ListPages(ctx context.Context) ([]Page, error) {
	pages, err := s.repo.ListPages(ctx)
	if err != nil {
		s.recordError(nil, err, "listing pages")
		return nil, eris.Wrap(err, "listing pages")
	}
	return pages, nil
}

func (s *service) Search(ctx context.Context, query string) ([]search.Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return []search.Result{}, nil
	}

	pages, err := s.ListPages(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "loading search corpus")
	}

	corpus := make([]search.Document, 0, len(pages))
	for _, page := range pages {
		corpus = append(corpus, search.Document{Slug: page.Slug, Content: page.Content})
	}

	results := search.Search(trimmed, corpus)
	if results == nil {
		results = []search.Result{}
	}
	return results, nil
}

// RenderPage resolves slug, renders it to HTML and inlines image data.
func (s *service) RenderPage(ctx context.Context, slug string) (string, error) {
	content, loadErr := s.GetPage(ctx, slug)

	html, err := s.renderer.Render(content)
	if err != nil {
		s.recordError(logrus.Fields{"slug": NormalizeSlug(slug)}, err, "rendering page")
		return "", eris.Wrapf(err, "rendering page: %s", NormalizeSlug(slug))
	}

	return s.ResolveImageRefs(ctx, html), loadErr
}

// EnsureHomePage seeds the welcome page when the wiki has no home page. The
// seed uses the plain upsert and does not create a version.
func (s *service) EnsureHomePage(ctx context.Context, token string) error {
	page, err := s.repo.GetBySlug(ctx, DefaultSlug)
	if err != nil {
		s.recordError(nil, err, "checking home page")
		return eris.Wrap(err, "checking home page")
	}
	if page != nil {
		return nil
	}

	return s.SavePage(ctx, DefaultSlug, WelcomeContent(token))
}

// WelcomeContent is the seed content of a new wiki's home page.
func WelcomeContent(token string) string {
	return fmt.Sprintf(`# Welcome to Peer Wiki

This is a peer-to-peer wiki. Any edits you make will sync automatically with anyone who has the same share link.

## Getting Started

1. Click **Edit** to modify this page
2. Create new pages by linking to them: [example](example)

## Features

- Real-time P2P sync between peers
- Markdown editing with live preview
- Works offline (changes sync when reconnected)
- No server required for data storage

Your wiki token: `+"`%s`"+`
`, token)
}

func (s *service) peerID() string {
	if s.peers == nil {
		return LocalPeerID
	}
	if id := strings.TrimSpace(s.peers.PeerID()); id != "" {
		return id
	}
	return LocalPeerID
}

func (s *service) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if s.sentryHub != nil {
		s.sentryHub.CaptureException(err)
	}
}
