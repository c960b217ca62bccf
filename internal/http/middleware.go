package http

import (
	"context"
	"fmt"
	"math"
	"net"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	applog "peerwiki/app/internal/log"
)

type middleware = func(huma.Context, func(huma.Context))

const (
	rateLimitMessage   = "Too many requests. Please wait a moment and try again."
	requestIDHeader    = "X-Request-ID"
	sentryFlushTimeout = 2 * time.Second
)

type requestIDKey struct{}

// forwardedHeaders are consulted in order for the client address.
var forwardedHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// requestIDMiddleware keeps a well-formed incoming request id and generates
// one otherwise.
func (s *Server) requestIDMiddleware() middleware {
	return func(ctx huma.Context, next func(huma.Context)) {
		reqID := strings.TrimSpace(ctx.Header(requestIDHeader))
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}

		goCtx := context.WithValue(ctx.Context(), requestIDKey{}, reqID)
		ctx = huma.WithContext(ctx, goCtx)
		ctx.SetHeader(requestIDHeader, reqID)

		if hub := sentry.GetHubFromContext(goCtx); hub != nil {
			hub.Scope().SetTag("request_id", reqID)
		}

		next(ctx)
	}
}

func requestIDFrom(ctx context.Context) string {
	reqID, _ := ctx.Value(requestIDKey{}).(string)
	return reqID
}

// rateLimitMiddleware answers API callers with a JSON problem and browsers
// with the HTML error page once their bucket is empty.
func (s *Server) rateLimitMiddleware() middleware {
	return func(ctx huma.Context, next func(huma.Context)) {
		req, _ := humago.Unwrap(ctx)
		if s.rateLimiter == nil || req == nil {
			next(ctx)
			return
		}

		ip := clientIPFromRequest(req)
		allowed, wait := s.rateLimiter.Reserve(ip)
		if allowed {
			next(ctx)
			return
		}

		s.component().WithFields(requestFields(ctx.Context(), logrus.Fields{
			"ip":   ip,
			"path": req.URL.Path,
			"wait": wait.String(),
		})).Warn("request rate limited")

		ctx.SetHeader("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))

		if strings.HasPrefix(req.URL.Path, "/api/") {
			ctx.SetHeader("Content-Type", "application/json")
			ctx.SetStatus(stdhttp.StatusTooManyRequests)
			_, _ = fmt.Fprintf(ctx.BodyWriter(), `{"status":%d,"title":%q,"detail":%q}`,
				stdhttp.StatusTooManyRequests, stdhttp.StatusText(stdhttp.StatusTooManyRequests), rateLimitMessage)
			return
		}

		resp, _ := s.renderErrorResponse(ctx.Context(), stdhttp.StatusTooManyRequests, rateLimitMessage)
		writeHTML(ctx, resp)
	}
}

// loggingMiddleware writes one entry per request. Server errors log at error
// level and client errors at warn.
func (s *Server) loggingMiddleware() middleware {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		next(ctx)

		status := ctx.Status()
		if status == 0 {
			status = stdhttp.StatusOK
		}

		fields := logrus.Fields{
			"method":      ctx.Method(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
		}
		if op := ctx.Operation(); op != nil {
			fields["route"] = op.Path
		}
		if req, _ := humago.Unwrap(ctx); req != nil {
			fields["path"] = req.URL.Path
			fields["remote_addr"] = req.RemoteAddr
		}
		if token := s.session.Token(); token != "" {
			fields["wiki_token"] = token
		}

		entry := s.component().WithFields(requestFields(ctx.Context(), fields))
		switch {
		case status >= stdhttp.StatusInternalServerError:
			entry.Error("request failed")
		case status >= stdhttp.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request completed")
		}
	}
}

// recoveryMiddleware turns a handler panic into the HTML error page.
func (s *Server) recoveryMiddleware() middleware {
	return func(ctx huma.Context, next func(huma.Context)) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}
			s.recordError(ctx.Context(), err, "panic recovered", nil)

			if hub := sentry.GetHubFromContext(ctx.Context()); hub != nil {
				hub.RecoverWithContext(ctx.Context(), rec)
				hub.Flush(sentryFlushTimeout)
			}

			resp, _ := s.renderErrorResponse(ctx.Context(), stdhttp.StatusInternalServerError, errorFallbackMessage)
			writeHTML(ctx, resp)
		}()

		next(ctx)
	}
}

// sentryMiddleware gives every request its own hub tagged with the route and
// the open wiki.
func (s *Server) sentryMiddleware() middleware {
	return func(ctx huma.Context, next func(huma.Context)) {
		if s.sentry == nil {
			next(ctx)
			return
		}

		hub := s.sentry.Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("http.method", ctx.Method())
			if op := ctx.Operation(); op != nil {
				scope.SetTag("http.route", op.Path)
			}
			if token := s.session.Token(); token != "" {
				scope.SetTag("wiki_token", token)
			}
		})

		ctx = huma.WithContext(ctx, sentry.SetHubOnContext(ctx.Context(), hub))
		defer hub.Flush(sentryFlushTimeout)

		next(ctx)
	}
}

func (s *Server) component() *logrus.Entry {
	return applog.Component(s.logger, "http")
}

func writeHTML(ctx huma.Context, resp *htmlResponse) {
	ctx.SetHeader("Content-Type", htmlContentType)
	ctx.SetStatus(resp.Status)
	_, _ = ctx.BodyWriter().Write(resp.Body)
}

func clientIPFromRequest(req *stdhttp.Request) string {
	if req == nil {
		return ""
	}

	for _, header := range forwardedHeaders {
		value := req.Header.Get(header)
		if first, _, _ := strings.Cut(value, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

// requestFields adds the request id of ctx to fields.
func requestFields(ctx context.Context, fields logrus.Fields) logrus.Fields {
	if fields == nil {
		fields = logrus.Fields{}
	}
	if requestID := requestIDFrom(ctx); requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
