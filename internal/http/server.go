package http

import (
	"bytes"
	"context"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/history"
	"peerwiki/app/internal/session"
)

// Options configures the HTTP server wiring.
type Options struct {
	Session      *session.Controller
	History      *history.Store
	View         *ViewTracker
	ShareBaseURL string
	Logger       *logrus.Logger
	SentryHub    *sentry.Hub
	RateLimiter  RateLimiterSettings
}

// RateLimiterSettings configures the HTTP rate limiter behaviour.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Server exposes the open wiki over HTTP: HTML views rendered with templ and
// a JSON API described by Huma.
type Server struct {
	api          huma.API
	mux          *stdhttp.ServeMux
	session      *session.Controller
	history      *history.Store
	view         *ViewTracker
	shareBaseURL string
	logger       *logrus.Logger
	sentry       *sentry.Hub
	rateLimiter  *RateLimiter
}

// NewServer constructs the HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, eris.New("session controller is required")
	}
	if opts.History == nil {
		return nil, eris.New("history store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	if opts.View == nil {
		opts.View = NewViewTracker(opts.Logger, 0)
	}

	settings := opts.RateLimiter
	if settings.Burst <= 0 {
		return nil, eris.New("rate limiter burst must be greater than zero")
	}
	if settings.RequestsPerSecond <= 0 {
		return nil, eris.New("rate limiter requests per second must be greater than zero")
	}
	if settings.ClientTTL <= 0 {
		return nil, eris.New("rate limiter client TTL must be greater than zero")
	}

	mux := stdhttp.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("Peer Wiki", "1.0.0"))

	srv := &Server{
		api:          api,
		mux:          mux,
		session:      opts.Session,
		history:      opts.History,
		view:         opts.View,
		shareBaseURL: opts.ShareBaseURL,
		logger:       opts.Logger,
		sentry:       opts.SentryHub,
		rateLimiter:  NewRateLimiter(settings.Burst, settings.RequestsPerSecond, settings.ClientTTL),
	}

	srv.registerMiddlewares()
	srv.registerPageRoutes()
	srv.registerAPIRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// API exposes the underlying Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	s.rateLimiter.Stop()
	s.view.Stop()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.rateLimitMiddleware(),
		s.loggingMiddleware(),
	)
}

func renderComponent(ctx context.Context, component templ.Component) ([]byte, error) {
	var buf bytes.Buffer
	if err := component.Render(ctx, &buf); err != nil {
		return nil, eris.Wrap(err, "rendering component")
	}
	return buf.Bytes(), nil
}
