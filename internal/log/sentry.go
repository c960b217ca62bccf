package log

import (
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	sentrylogrus "github.com/getsentry/sentry-go/logrus"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const sentryFlushTimeout = 2 * time.Second

// SentrySettings represents the configuration required to bootstrap Sentry.
type SentrySettings struct {
	DSN         string
	Environment string
	Release     string
	// Token tags every event with the wiki that was open when it occurred.
	Token string
}

// InitSentry creates a Sentry hub and forwards error level log entries to it.
// Without a DSN it returns a nil hub and a no-op flush.
func InitSentry(logger *logrus.Logger, settings SentrySettings) (*sentry.Hub, func(), error) {
	if settings.DSN == "" {
		return nil, func() {}, nil
	}

	if settings.Release == "" {
		settings.Release = buildRelease()
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         settings.DSN,
		Environment: settings.Environment,
		Release:     settings.Release,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "initializing sentry client")
	}

	scope := sentry.NewScope()
	if settings.Token != "" {
		scope.SetTag("wiki_token", settings.Token)
	}
	hub := sentry.NewHub(client, scope)

	if logger != nil {
		logger.AddHook(sentrylogrus.NewLogHookFromClient([]logrus.Level{
			logrus.ErrorLevel,
			logrus.FatalLevel,
			logrus.PanicLevel,
		}, client))
	}

	flush := func() {
		hub.Flush(sentryFlushTimeout)
	}

	return hub, flush, nil
}

func buildRelease() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "peerwiki@devel"
	}
	return "peerwiki@" + info.Main.Version
}
