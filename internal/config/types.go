// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for vodgate.
package config

import (
	"time"

	"github.com/ManuGH/vodgate/internal/domain/media"
)

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	LogLevel   string `yaml:"log_level"`
	LogService string `yaml:"log_service"`

	API       APIConfig       `yaml:"api"`
	Media     MediaConfig     `yaml:"media"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Version is injected from the binary, never read from file.
	Version string `yaml:"-"`
}

// APIConfig configures the HTTP boundary.
type APIConfig struct {
	ListenAddr         string        `yaml:"listen_addr"`
	RequireStreamToken bool          `yaml:"require_stream_token"`
	MaxUploadBytes     int64         `yaml:"max_upload_bytes"`
	RateLimitRPM       int           `yaml:"rate_limit_rpm"`
	TrustProxyHeaders  bool          `yaml:"trust_proxy_headers"`
	DefaultTokenTTL    int           `yaml:"default_token_ttl_minutes"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
}

// MediaConfig configures the media root and external tools.
type MediaConfig struct {
	Root             string        `yaml:"root"`
	FFmpegBin        string        `yaml:"ffmpeg_bin"`
	FFprobeBin       string        `yaml:"ffprobe_bin"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	ThumbnailTimeout time.Duration `yaml:"thumbnail_timeout"`
}

// TranscodeConfig configures the orchestrator worker pool.
type TranscodeConfig struct {
	Workers              int            `yaml:"workers"`
	QueueSize            int            `yaml:"queue_size"`
	RenditionParallelism int            `yaml:"rendition_parallelism"`
	TimeoutBase          time.Duration  `yaml:"timeout_base"`
	TimeoutPerGB         time.Duration  `yaml:"timeout_per_gb"`
	Targets              []media.Target `yaml:"targets"`
}

// StoreConfig selects persistence backends.
type StoreConfig struct {
	Backend string      `yaml:"backend"` // sqlite | memory
	Path    string      `yaml:"path"`    // sqlite file, defaults to <media.root>/vodgate.db
	Tokens  string      `yaml:"tokens"`  // "" (same as backend) | redis
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig is used when store.tokens is "redis".
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc | http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)
