// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ManuGH/vodgate/internal/access"
	"github.com/ManuGH/vodgate/internal/api"
	"github.com/ManuGH/vodgate/internal/clock"
	"github.com/ManuGH/vodgate/internal/config"
	"github.com/ManuGH/vodgate/internal/domain/media"
	"github.com/ManuGH/vodgate/internal/infra/ffmpeg"
	"github.com/ManuGH/vodgate/internal/library"
	xglog "github.com/ManuGH/vodgate/internal/log"
	"github.com/ManuGH/vodgate/internal/stats"
	"github.com/ManuGH/vodgate/internal/store"
	"github.com/ManuGH/vodgate/internal/stream"
	"github.com/ManuGH/vodgate/internal/telemetry"
	"github.com/ManuGH/vodgate/internal/transcode"
)

type app struct {
	cfg          config.AppConfig
	logger       zerolog.Logger
	store        store.Store
	telemetry    *telemetry.Provider
	orchestrator *transcode.Orchestrator
	handler      http.Handler
}

// build wires every service from cfg. Nothing is started yet.
func build(ctx context.Context, cfg config.AppConfig) (*app, error) {
	logger := xglog.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	layout := media.NewLayout(cfg.Media.Root)
	if err := layout.EnsureDirs(); err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("media root: %w", err)
	}

	clk := clock.Real{}
	st, err := store.Open(ctx, store.Options{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Tokens:  cfg.Store.Tokens,
		Redis: store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		},
		Clock:  clk,
		Logger: xglog.WithComponent("store"),
	})
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info().
		Str("backend", cfg.Store.Backend).
		Str("tokens", cfg.Store.Tokens).
		Str(xglog.FieldPath, cfg.Store.Path).
		Msg("store opened")

	exec := ffmpeg.NewExecutor(xglog.WithComponent("ffmpeg"))
	orch := transcode.New(transcode.Config{
		Store:                st,
		Transcoder:           ffmpeg.NewTranscoder(exec, cfg.Media.FFmpegBin, xglog.WithComponent("ffmpeg")),
		Layout:               layout,
		Targets:              cfg.Transcode.Targets,
		Workers:              cfg.Transcode.Workers,
		QueueSize:            cfg.Transcode.QueueSize,
		RenditionParallelism: cfg.Transcode.RenditionParallelism,
		TimeoutBase:          cfg.Transcode.TimeoutBase,
		TimeoutPerGB:         cfg.Transcode.TimeoutPerGB,
		Logger:               xglog.Base(),
	})

	lib := library.NewService(library.Config{
		Store:          st,
		Layout:         layout,
		Prober:         ffmpeg.NewProber(exec, cfg.Media.FFprobeBin, cfg.Media.ProbeTimeout, xglog.WithComponent("ffmpeg")),
		Thumbnailer:    ffmpeg.NewThumbnailer(exec, cfg.Media.FFmpegBin, cfg.Media.ThumbnailTimeout, xglog.WithComponent("ffmpeg")),
		Scheduler:      orch,
		Clock:          clk,
		Logger:         xglog.Base(),
		MaxUploadBytes: cfg.API.MaxUploadBytes,
	})
	gate := access.NewGate(access.Config{
		Tokens:     st,
		Videos:     st,
		Stats:      st,
		Clock:      clk,
		DefaultTTL: cfg.API.DefaultTokenTTL,
		Logger:     xglog.Base(),
	})

	serviceName := ""
	if cfg.Telemetry.Enabled {
		serviceName = cfg.LogService
	}
	srv := api.New(api.Config{
		RequireStreamToken: cfg.API.RequireStreamToken,
		MaxUploadBytes:     cfg.API.MaxUploadBytes,
		RateLimitRPM:       cfg.API.RateLimitRPM,
		TrustProxyHeaders:  cfg.API.TrustProxyHeaders,
		AllowedOrigins:     cfg.API.AllowedOrigins,
		Version:            cfg.Version,
		TracingService:     serviceName,
		Logger:             xglog.Base(),
	}, api.Deps{
		Library:   lib,
		Reprocess: orch,
		Tokens:    gate,
		Streams:   stream.NewResolver(st, layout),
		Reports:   stats.NewService(st, st, clk),
	})

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		telemetry:    tp,
		orchestrator: orch,
		handler:      srv.Handler(),
	}, nil
}

// close stops the workers before releasing the store they write to.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.orchestrator.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("transcode shutdown: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}
