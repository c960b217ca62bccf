package bootstrap

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"peerwiki/app/internal/config"
	"peerwiki/app/internal/db"
	"peerwiki/app/internal/history"
	apphttp "peerwiki/app/internal/http"
	"peerwiki/app/internal/markdown"
	"peerwiki/app/internal/session"
	"peerwiki/app/internal/syncdb"
	"peerwiki/app/internal/wiki"
)

// rateLimitClientTTL is how long an idle client's bucket is kept.
const rateLimitClientTTL = 10 * time.Minute

type Dependencies struct {
	Config    *config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
	// NewEngine overrides the engine chosen from the configuration.
	NewEngine session.EngineFactory
}

type Result struct {
	Session    *session.Controller
	History    *history.Store
	HTTPServer *apphttp.Server
	Database   *gorm.DB
	Cleanup    func() error
}

// Build composes the wiki application layers, opens the wiki chosen by
// token resolution and returns the constructed components.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	cfg := deps.Config
	if cfg == nil {
		return Result{}, eris.New("config is required")
	}

	historyDB, err := db.Open(db.Options{
		Path:   cfg.HistoryDBPath,
		Logger: db.GormLogger(deps.Logger),
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "opening history database")
	}

	closeOnError := func(wrapper error) (Result, error) {
		if closeErr := db.Close(historyDB); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing history database after bootstrap failure")
		}
		return Result{}, wrapper
	}

	store, err := history.NewStore(ctx, historyDB, deps.Logger)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating history store"))
	}

	pointer, err := history.NewActivePointer(cfg.ActiveWikiPath)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating active wiki pointer"))
	}

	newEngine := deps.NewEngine
	if newEngine == nil {
		newEngine = EngineFactory(cfg, deps.Logger)
	}

	view := apphttp.NewViewTracker(deps.Logger, cfg.RefreshDelay)

	controller, err := session.NewController(session.Options{
		DataDir:      cfg.DataDir,
		SignalingURL: cfg.SignalingURL,
		Offline:      cfg.Offline,
		History:      store,
		Pointer:      pointer,
		Renderer:     markdown.New(markdown.WithSlugger(wiki.NormalizeSlug)),
		NewEngine:    newEngine,
		Navigator:    view,
		Logger:       deps.Logger,
		SentryHub:    deps.SentryHub,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating session controller"))
	}

	token, err := controller.ResolveToken(cfg.WikiToken)
	if err != nil {
		return closeOnError(eris.Wrap(err, "resolving wiki token"))
	}

	if err := controller.Open(ctx, token); err != nil {
		return closeOnError(eris.Wrapf(err, "opening wiki %s", token))
	}

	closeAll := func(wrapper error) (Result, error) {
		if closeErr := controller.Close(); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing session after bootstrap failure")
		}
		return closeOnError(wrapper)
	}

	httpServer, err := apphttp.NewServer(apphttp.Options{
		Session:      controller,
		History:      store,
		View:         view,
		ShareBaseURL: cfg.ShareBaseURL,
		Logger:       deps.Logger,
		SentryHub:    deps.SentryHub,
		RateLimiter: apphttp.RateLimiterSettings{
			Burst:             cfg.RateLimitBurst,
			RequestsPerSecond: cfg.RateLimitRate,
			ClientTTL:         rateLimitClientTTL,
		},
	})
	if err != nil {
		return closeAll(eris.Wrap(err, "initialising http server"))
	}

	if deps.SentryHub != nil {
		deps.SentryHub.Scope().SetTag("wiki_token", token)
	}

	cleanup := func() error {
		httpServer.Close()
		sessionErr := controller.Close()
		dbErr := db.Close(historyDB)
		if sessionErr != nil {
			return sessionErr
		}
		return dbErr
	}

	return Result{
		Session:    controller,
		History:    store,
		HTTPServer: httpServer,
		Database:   historyDB,
		Cleanup:    cleanup,
	}, nil
}

// EngineFactory returns the engine constructor for cfg: an in-process engine
// when offline, otherwise a signaling client with a fresh peer id per wiki.
func EngineFactory(cfg *config.Config, logger *logrus.Logger) session.EngineFactory {
	if cfg.Offline {
		return func(string) (syncdb.Engine, error) {
			return syncdb.NewLocalEngine(uuid.NewString()), nil
		}
	}

	return func(string) (syncdb.Engine, error) {
		engine, err := syncdb.NewSignalingEngine(syncdb.SignalingOptions{
			PeerID:         uuid.NewString(),
			ReconnectDelay: cfg.ReconnectDelay,
			Logger:         logger,
		})
		if err != nil {
			return nil, eris.Wrap(err, "creating signaling engine")
		}
		return engine, nil
	}
}
