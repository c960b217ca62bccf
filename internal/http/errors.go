package http

import (
	"context"
	"fmt"
	stdhttp "net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"peerwiki/app/internal/http/templates"
	"peerwiki/app/internal/session"
	"peerwiki/app/internal/wiki"
)

const errorFallbackMessage = "We couldn't process your request right now."

// classifyError maps domain errors to an HTTP status and a message that is
// safe to show to users.
func classifyError(err error) (int, string) {
	switch {
	case err == nil:
		return stdhttp.StatusInternalServerError, errorFallbackMessage
	case eris.Is(err, wiki.ErrPageNotFound):
		return stdhttp.StatusNotFound, "That page does not exist yet."
	case eris.Is(err, wiki.ErrVersionNotFound):
		return stdhttp.StatusNotFound, "That version does not exist for this page."
	case eris.Is(err, wiki.ErrImageNotFound):
		return stdhttp.StatusNotFound, "That image does not exist."
	case eris.Is(err, wiki.ErrImageTooLarge):
		return stdhttp.StatusRequestEntityTooLarge, fmt.Sprintf("Images may be at most %d bytes.", wiki.MaxImageBytes)
	case eris.Is(err, wiki.ErrUnsupportedImageType):
		return stdhttp.StatusUnsupportedMediaType, "Only image uploads are supported."
	case eris.Is(err, wiki.ErrEmptyImage):
		return stdhttp.StatusBadRequest, "The uploaded image is empty."
	case eris.Is(err, session.ErrUnsavedChanges):
		return stdhttp.StatusConflict, "Discard unsaved changes?"
	case eris.Is(err, session.ErrNotEditing):
		return stdhttp.StatusConflict, "The page is not being edited."
	case eris.Is(err, session.ErrNoSession):
		return stdhttp.StatusServiceUnavailable, "No wiki is open."
	default:
		return stdhttp.StatusInternalServerError, errorFallbackMessage
	}
}

// apiError converts err into a Huma problem response, recording server-side
// failures.
func (s *Server) apiError(ctx context.Context, err error, message string, fields logrus.Fields) error {
	status, detail := classifyError(err)
	if status >= stdhttp.StatusInternalServerError {
		s.recordError(ctx, err, message, fields)
	}
	return huma.NewError(status, detail)
}

func (s *Server) renderErrorResponse(ctx context.Context, status int, message string) (*htmlResponse, error) {
	label := fmt.Sprintf("%d %s", status, stdhttp.StatusText(status))

	body, err := renderComponent(ctx, templates.ErrorPage(templates.ErrorPageData{
		StatusLabel: label,
		Message:     message,
	}))
	if err != nil {
		s.recordError(ctx, err, "rendering error page", logrus.Fields{"status": status})
		fallback := []byte(fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", label, message))
		return newHTMLResponse(status, fallback), nil
	}

	return newHTMLResponse(status, body), nil
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	entry := s.component().WithFields(requestFields(ctx, logrus.Fields{"error": err.Error()}))
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}
