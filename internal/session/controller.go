// Package session owns the state of the wiki that is currently open on this
// device: which wiki, which page, whether the page is being edited, and the
// sync engine and database that back it.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"peerwiki/app/internal/connstate"
	"peerwiki/app/internal/db"
	"peerwiki/app/internal/history"
	"peerwiki/app/internal/syncdb"
	"peerwiki/app/internal/wiki"
)

// ErrUnsavedChanges is returned by CancelEdit when the draft differs from the
// content the edit started with and the caller did not ask to discard it.
var ErrUnsavedChanges = eris.New("discard unsaved changes?")

// ErrNoSession is returned by operations that need an open wiki.
var ErrNoSession = eris.New("no wiki is open")

// ErrNotEditing is returned when saving without an edit in progress.
var ErrNotEditing = eris.New("page is not being edited")

// Navigator re-renders the view for a page path.
type Navigator interface {
	Go(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Go calls f(path).
func (f NavigatorFunc) Go(path string) { f(path) }

// EngineFactory creates the sync engine for a wiki token.
type EngineFactory func(token string) (syncdb.Engine, error)

// NoticeKind classifies a status bar message.
type NoticeKind string

const (
	NoticeInfo    NoticeKind = ""
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is the latest status bar message.
type Notice struct {
	Message string     `json:"message"`
	Kind    NoticeKind `json:"kind,omitempty"`
}

// Options wires a Controller.
type Options struct {
	DataDir      string
	SignalingURL string
	Offline      bool
	History      *history.Store
	Pointer      *history.ActivePointer
	Renderer     wiki.Renderer
	NewEngine    EngineFactory
	Navigator    Navigator
	Logger       *logrus.Logger
	SentryHub    *sentry.Hub
}

// Controller is the single owner of session view state. All methods are safe
// for concurrent use; engine events arrive on the engine's goroutine.
type Controller struct {
	opts    Options
	machine *connstate.Machine

	mu       sync.Mutex
	token    string
	engine   syncdb.Engine
	database *gorm.DB
	service  wiki.Service
	slug     string
	editing  bool
	editSlug string
	original string
	notice   Notice
}

// NewController validates opts and returns a Controller with no wiki open.
func NewController(opts Options) (*Controller, error) {
	if strings.TrimSpace(opts.DataDir) == "" {
		return nil, eris.New("data directory is required")
	}
	if opts.History == nil {
		return nil, eris.New("history store is required")
	}
	if opts.Pointer == nil {
		return nil, eris.New("active wiki pointer is required")
	}
	if opts.Renderer == nil {
		return nil, eris.New("markdown renderer is required")
	}
	if opts.NewEngine == nil {
		return nil, eris.New("engine factory is required")
	}
	if opts.Navigator == nil {
		opts.Navigator = NavigatorFunc(func(string) {})
	}

	c := &Controller{
		opts:    opts,
		machine: connstate.NewMachine(opts.Logger),
		slug:    wiki.DefaultSlug,
	}
	c.machine.Observe(c.onEvent)

	return c, nil
}

// ResolveToken picks the token to open: the explicit one, else the active
// pointer, else a freshly generated token.
func (c *Controller) ResolveToken(explicit string) (string, error) {
	if token := strings.TrimSpace(explicit); token != "" {
		return token, nil
	}

	token, err := c.opts.Pointer.Get()
	if err != nil {
		return "", eris.Wrap(err, "reading active wiki")
	}
	if token != "" {
		return token, nil
	}

	return history.NewToken(), nil
}

// Open switches the session to the wiki identified by token. The previous
// wiki, if any, is detached and closed before the new engine is attached, so
// its events can no longer reach this session. A failed signaling connection
// is reported through the status and does not fail Open.
func (c *Controller) Open(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return eris.New("token is required")
	}

	logFields := logrus.Fields{"component": "session", "token": token}

	engine, database, service, err := c.openWiki(ctx, token)
	if err != nil {
		c.recordError(logFields, err, "opening wiki failed")
		return err
	}

	c.remember(ctx, token, logFields)

	c.machine.Detach()
	c.closeCurrent()
	c.machine.Reset()

	c.mu.Lock()
	c.token = token
	c.engine = engine
	c.database = database
	c.service = service
	c.slug = wiki.DefaultSlug
	c.editing = false
	c.editSlug = ""
	c.original = ""
	c.notice = Notice{}
	c.mu.Unlock()

	c.machine.Attach(engine)

	if c.opts.Offline {
		c.setNotice(Notice{Message: "Working offline"})
		c.logInfo(logFields, "opened wiki offline")
		return nil
	}

	c.setNotice(Notice{Message: "Connecting to peers..."})
	if err := engine.Connect(ctx, c.opts.SignalingURL, token); err != nil {
		c.recordError(logFields, err, "connecting to signaling server failed")
		c.machine.Handle(syncdb.Event{Type: syncdb.EventDisconnected, Err: eris.Cause(err).Error()})
		return nil
	}

	c.logInfo(logFields, "opened wiki")
	return nil
}

// remember records the visit and the active wiki pointer. Failures are logged
// and do not fail Open.
func (c *Controller) remember(ctx context.Context, token string, fields logrus.Fields) {
	if err := c.opts.History.RecordVisit(ctx, token, ""); err != nil {
		c.recordError(fields, err, "recording wiki visit failed")
	}
	if err := c.opts.Pointer.Set(token); err != nil {
		c.recordError(fields, err, "setting active wiki failed")
	}
}

func (c *Controller) openWiki(ctx context.Context, token string) (syncdb.Engine, *gorm.DB, wiki.Service, error) {
	path, err := db.WikiPath(c.opts.DataDir, token)
	if err != nil {
		return nil, nil, nil, err
	}

	engine, err := c.opts.NewEngine(token)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "creating sync engine")
	}

	database, err := db.Open(db.Options{Path: path, Logger: db.GormLogger(c.opts.Logger)})
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "opening wiki database")
	}

	fail := func(err error) (syncdb.Engine, *gorm.DB, wiki.Service, error) {
		_ = db.Close(database)
		return nil, nil, nil, err
	}

	if err := wiki.InitSchema(ctx, database, engine, c.opts.Logger); err != nil {
		return fail(err)
	}

	repo, err := wiki.NewRepository(database, c.opts.Logger)
	if err != nil {
		return fail(err)
	}

	service, err := wiki.NewService(repo, c.opts.Renderer, engine, c.opts.Logger, c.opts.SentryHub)
	if err != nil {
		return fail(err)
	}

	if err := service.EnsureHomePage(ctx, token); err != nil {
		return fail(err)
	}

	return engine, database, service, nil
}

// Close disconnects and closes the open wiki.
func (c *Controller) Close() error {
	c.machine.Detach()
	return c.closeCurrent()
}

func (c *Controller) closeCurrent() error {
	c.mu.Lock()
	engine := c.engine
	database := c.database
	token := c.token
	c.engine = nil
	c.database = nil
	c.service = nil
	c.mu.Unlock()

	var firstErr error
	if engine != nil {
		if err := engine.Disconnect(); err != nil {
			c.recordError(logrus.Fields{"component": "session", "token": token}, err, "disconnecting engine failed")
			firstErr = eris.Wrap(err, "disconnecting engine")
		}
	}
	if database != nil {
		if err := db.Close(database); err != nil && firstErr == nil {
			firstErr = eris.Wrap(err, "closing wiki database")
		}
	}
	return firstErr
}

// Ping checks that the open wiki's database answers.
func (c *Controller) Ping(ctx context.Context) error {
	c.mu.Lock()
	database := c.database
	c.mu.Unlock()

	if database == nil {
		return ErrNoSession
	}

	sqlDB, err := db.SQLDB(database)
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return eris.Wrap(err, "pinging wiki database")
	}
	return nil
}

// Token returns the open wiki's token, or "" when none is open.
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Service returns the document store of the open wiki.
func (c *Controller) Service() (wiki.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.service == nil {
		return nil, ErrNoSession
	}
	return c.service, nil
}

// Engine returns the sync engine of the open wiki, or nil.
func (c *Controller) Engine() syncdb.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// State returns the connection state of the open wiki.
func (c *Controller) State() connstate.State {
	return c.machine.State()
}

// Notice returns the latest status bar message.
func (c *Controller) Notice() Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// CurrentSlug returns the page being viewed.
func (c *Controller) CurrentSlug() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slug
}

// Editing reports whether an edit is in progress.
func (c *Controller) Editing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editing
}

// EditSlug returns the page being edited. Navigating away during an edit
// does not change it.
func (c *Controller) EditSlug() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editSlug, c.editing
}

// Navigate makes path the current page and returns its slug.
func (c *Controller) Navigate(path string) string {
	slug := wiki.NormalizeSlug(path)

	c.mu.Lock()
	c.slug = slug
	c.mu.Unlock()

	return slug
}

// BeginEdit enters edit mode for the current page and returns the initial
// draft. A page that does not exist yet starts with just its title.
func (c *Controller) BeginEdit(ctx context.Context) (string, error) {
	service, err := c.Service()
	if err != nil {
		return "", err
	}

	slug := c.CurrentSlug()
	draft := fmt.Sprintf("# %s\n\n", slug)

	page, err := service.LookupPage(ctx, slug)
	switch {
	case err == nil:
		draft = page.Content
	case !eris.Is(err, wiki.ErrPageNotFound):
		return "", err
	}

	c.mu.Lock()
	c.editing = true
	c.editSlug = slug
	c.original = draft
	c.mu.Unlock()

	return draft, nil
}

// CancelEdit leaves edit mode. When draft differs from the content the edit
// started with, ErrUnsavedChanges is returned and edit mode is kept unless
// discard is set.
func (c *Controller) CancelEdit(draft string, discard bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.editing {
		return nil
	}
	if draft != c.original && !discard {
		return ErrUnsavedChanges
	}

	c.editing = false
	c.editSlug = ""
	c.original = ""
	return nil
}

// Save stores content as a new version of the page the edit began on, leaves
// edit mode and refreshes the view.
func (c *Controller) Save(ctx context.Context, content string) (*wiki.PageVersion, error) {
	service, err := c.Service()
	if err != nil {
		return nil, err
	}
	slug, editing := c.EditSlug()
	if !editing {
		return nil, ErrNotEditing
	}

	version, err := service.SavePageWithVersion(ctx, slug, content)
	if err != nil {
		c.setNotice(Notice{Message: fmt.Sprintf("Failed to save: %s", eris.Cause(err).Error()), Kind: NoticeError})
		return nil, err
	}

	c.mu.Lock()
	c.editing = false
	c.editSlug = ""
	c.original = ""
	c.mu.Unlock()

	c.setNotice(Notice{Message: "Page saved", Kind: NoticeSuccess})
	c.opts.Navigator.Go(slug)
	return version, nil
}

// Restore makes a past version of the current page live again.
func (c *Controller) Restore(ctx context.Context, versionID string) (*wiki.PageVersion, error) {
	service, err := c.Service()
	if err != nil {
		return nil, err
	}

	slug := c.CurrentSlug()
	version, err := service.RestoreVersion(ctx, slug, versionID)
	if err != nil {
		c.setNotice(Notice{Message: fmt.Sprintf("Failed to restore: %s", eris.Cause(err).Error()), Kind: NoticeError})
		return nil, err
	}

	c.setNotice(Notice{Message: "Version restored", Kind: NoticeSuccess})
	if !c.Editing() {
		c.opts.Navigator.Go(slug)
	}
	return version, nil
}

func (c *Controller) onEvent(state connstate.State, event syncdb.Event) {
	switch event.Type {
	case syncdb.EventSync:
		c.setNotice(Notice{Message: connstate.SyncText(event.ChangeCount), Kind: NoticeSuccess})

		c.mu.Lock()
		refresh := !c.editing
		slug := c.slug
		c.mu.Unlock()

		if refresh {
			c.opts.Navigator.Go(slug)
		}
	case syncdb.EventPeerReady, syncdb.EventPeerLeave:
	default:
		kind := NoticeInfo
		if state.LastError != "" {
			kind = NoticeError
		}
		c.setNotice(Notice{Message: state.StatusText(), Kind: kind})
	}
}

func (c *Controller) setNotice(notice Notice) {
	c.mu.Lock()
	c.notice = notice
	c.mu.Unlock()
}

func (c *Controller) logInfo(fields logrus.Fields, message string) {
	if c.opts.Logger != nil {
		c.opts.Logger.WithFields(fields).Info(message)
	}
}

func (c *Controller) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if c.opts.Logger != nil {
		c.opts.Logger.WithFields(fields).WithField("error", err.Error()).Error(message)
	}
	if c.opts.SentryHub != nil {
		c.opts.SentryHub.CaptureException(err)
	}
}
