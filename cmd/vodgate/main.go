// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/vodgate/internal/config"
	xglog "github.com/ManuGH/vodgate/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "vodgate",
		Version: version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(strings.TrimSpace(*configPath), version).Load()
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "config.invalid").Msg("failed to load configuration")
	}
	xglog.Reconfigure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version,
	})
	logger = xglog.WithComponent("daemon")

	app, err := build(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "startup.failed").Msg("failed to initialise")
	}

	if err := app.run(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
		os.Exit(1)
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("daemon stopped")
}

// run serves until ctx is cancelled, then drains the HTTP server and the
// transcode workers within the configured shutdown timeout.
func (a *app) run(ctx context.Context) error {
	a.orchestrator.Start()
	if n, err := a.orchestrator.RecoverPending(ctx); err != nil {
		a.logger.Warn().Err(err).Str(xglog.FieldEvent, "recover.failed").Msg("could not requeue pending assets")
	} else if n > 0 {
		a.logger.Info().Int("count", n).Str(xglog.FieldEvent, "recover.requeued").Msg("requeued pending assets")
	}

	srv := &http.Server{
		Addr:              a.cfg.API.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", srv.Addr).
			Str(xglog.FieldEvent, "server.listening").
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Str(xglog.FieldEvent, "shutdown.start").Msg("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.API.ShutdownTimeout)
	defer cancel()
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
