// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/vodgate/internal/domain/media"
)

// Validate checks a resolved configuration. All problems are reported at once.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...)))
	}

	if strings.TrimSpace(cfg.API.ListenAddr) == "" {
		add("api.listen_addr", "must not be empty")
	}
	if cfg.API.MaxUploadBytes <= 0 {
		add("api.max_upload_bytes", "must be positive, got %d", cfg.API.MaxUploadBytes)
	}
	if cfg.API.RateLimitRPM < 0 {
		add("api.rate_limit_rpm", "must not be negative, got %d", cfg.API.RateLimitRPM)
	}
	if cfg.API.DefaultTokenTTL < 1 {
		add("api.default_token_ttl_minutes", "must be at least 1, got %d", cfg.API.DefaultTokenTTL)
	}
	if cfg.API.ShutdownTimeout <= 0 {
		add("api.shutdown_timeout", "must be positive")
	}

	if strings.TrimSpace(cfg.Media.Root) == "" {
		add("media.root", "must not be empty")
	}
	if cfg.Media.FFmpegBin == "" {
		add("media.ffmpeg_bin", "must not be empty")
	}
	if cfg.Media.FFprobeBin == "" {
		add("media.ffprobe_bin", "must not be empty")
	}
	if cfg.Media.ProbeTimeout <= 0 {
		add("media.probe_timeout", "must be positive")
	}
	if cfg.Media.ThumbnailTimeout <= 0 {
		add("media.thumbnail_timeout", "must be positive")
	}

	if cfg.Transcode.Workers < 1 || cfg.Transcode.Workers > 64 {
		add("transcode.workers", "must be between 1 and 64, got %d", cfg.Transcode.Workers)
	}
	if cfg.Transcode.QueueSize < 1 {
		add("transcode.queue_size", "must be at least 1, got %d", cfg.Transcode.QueueSize)
	}
	if cfg.Transcode.RenditionParallelism < 1 {
		add("transcode.rendition_parallelism", "must be at least 1, got %d", cfg.Transcode.RenditionParallelism)
	}
	if cfg.Transcode.TimeoutBase <= 0 {
		add("transcode.timeout_base", "must be positive")
	}
	if cfg.Transcode.TimeoutPerGB < 0 {
		add("transcode.timeout_per_gb", "must not be negative")
	}
	if err := media.ValidateCatalog(cfg.Transcode.Targets); err != nil {
		add("transcode.targets", "%v", err)
	}

	switch cfg.Store.Backend {
	case BackendSQLite:
		if cfg.Store.Path == "" {
			add("store.path", "required for sqlite backend")
		}
	case BackendMemory:
	default:
		add("store.backend", "unsupported backend %q (sqlite, memory)", cfg.Store.Backend)
	}
	switch cfg.Store.Tokens {
	case "", cfg.Store.Backend:
	case BackendRedis:
		if cfg.Store.Redis.Addr == "" {
			add("store.redis.addr", "required when store.tokens is redis")
		}
	default:
		add("store.tokens", "unsupported token backend %q (redis)", cfg.Store.Tokens)
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			add("telemetry.exporter", "must be grpc or http, got %q", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.Endpoint == "" {
			add("telemetry.endpoint", "required when telemetry is enabled")
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.sampling_rate", "must be within [0,1], got %v", cfg.Telemetry.SamplingRate)
		}
	}

	return errors.Join(errs...)
}
