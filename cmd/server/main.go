package main

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"peerwiki/app/internal/app/bootstrap"
	"peerwiki/app/internal/config"
	applog "peerwiki/app/internal/log"
)

const readHeaderTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "failure loading configuration")
	}

	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := cfg.Apply(flags); err != nil {
		return eris.Wrap(err, "failure applying flags")
	}

	logger, err := applog.NewLogger(cfg.LogLevel)
	if err != nil {
		return eris.Wrap(err, "failure initialising logger")
	}

	sentryHub, flush, err := applog.InitSentry(logger, applog.SentrySettings{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Token:       cfg.WikiToken,
	})
	if err != nil {
		return eris.Wrap(err, "failure initialising sentry")
	}
	defer flush()

	app, err := bootstrap.Build(ctx, bootstrap.Dependencies{
		Config:    cfg,
		Logger:    logger,
		SentryHub: sentryHub,
	})
	if err != nil {
		return eris.Wrap(err, "failure building application")
	}
	defer func() {
		if closeErr := app.Cleanup(); closeErr != nil {
			logger.WithError(closeErr).Error("closing application")
		}
	}()

	httpServer := &stdhttp.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.ServerPort),
		Handler:           app.HTTPServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.WithFields(logrus.Fields{
		"addr":    httpServer.Addr,
		"token":   app.Session.Token(),
		"offline": cfg.Offline,
	}).Info("starting http server")

	return serve(ctx, logger, httpServer, cfg.ShutdownGrace)
}

// serve runs srv until ctx is cancelled, then drains in-flight requests for
// at most grace.
func serve(ctx context.Context, logger *logrus.Logger, srv *stdhttp.Server, grace time.Duration) error {
	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		return eris.Wrap(err, "http server error")
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "shutting down http server")
	}

	logger.Info("http server shut down cleanly")
	return nil
}

// parseFlags reads the command line overrides. Only flags that were set end
// up in the result.
func parseFlags(args []string) (config.Flags, error) {
	fs := pflag.NewFlagSet("peerwiki", pflag.ContinueOnError)
	token := fs.StringP("token", "t", "", "wiki token to open")
	offline := fs.Bool("offline", false, "work without the signaling server")
	port := fs.IntP("port", "p", 0, "HTTP listen port")

	if err := fs.Parse(args); err != nil {
		return config.Flags{}, eris.Wrap(err, "parsing flags")
	}

	var flags config.Flags
	if fs.Changed("token") {
		flags.Token = token
	}
	if fs.Changed("offline") {
		flags.Offline = offline
	}
	if fs.Changed("port") {
		flags.Port = port
	}
	return flags, nil
}
