// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variable names. All are optional.
const (
	EnvLogLevel             = "VODGATE_LOG_LEVEL"
	EnvListenAddr           = "VODGATE_LISTEN_ADDR"
	EnvRequireStreamToken   = "VODGATE_REQUIRE_STREAM_TOKEN"
	EnvMaxUploadBytes       = "VODGATE_MAX_UPLOAD_BYTES"
	EnvRateLimitRPM         = "VODGATE_RATE_LIMIT_RPM"
	EnvTrustProxyHeaders    = "VODGATE_TRUST_PROXY_HEADERS"
	EnvAllowedOrigins       = "VODGATE_ALLOWED_ORIGINS"
	EnvMediaRoot            = "VODGATE_MEDIA_ROOT"
	EnvFFmpegBin            = "VODGATE_FFMPEG_BIN"
	EnvFFprobeBin           = "VODGATE_FFPROBE_BIN"
	EnvProbeTimeout         = "VODGATE_PROBE_TIMEOUT"
	EnvTranscodeWorkers     = "VODGATE_TRANSCODE_WORKERS"
	EnvTranscodeQueueSize   = "VODGATE_TRANSCODE_QUEUE_SIZE"
	EnvRenditionParallelism = "VODGATE_RENDITION_PARALLELISM"
	EnvTimeoutBase          = "VODGATE_TRANSCODE_TIMEOUT_BASE"
	EnvTimeoutPerGB         = "VODGATE_TRANSCODE_TIMEOUT_PER_GB"
	EnvStoreBackend         = "VODGATE_STORE_BACKEND"
	EnvStorePath            = "VODGATE_STORE_PATH"
	EnvTokenBackend         = "VODGATE_TOKEN_BACKEND"
	EnvRedisAddr            = "VODGATE_REDIS_ADDR"
	EnvRedisPassword        = "VODGATE_REDIS_PASSWORD"
	EnvRedisDB              = "VODGATE_REDIS_DB"
	EnvTelemetryEnabled     = "VODGATE_TELEMETRY_ENABLED"
	EnvOTLPExporter         = "VODGATE_OTLP_EXPORTER"
	EnvOTLPEndpoint         = "VODGATE_OTLP_ENDPOINT"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load resolves defaults, the optional YAML file and environment overrides,
// then validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.Media.Root); err == nil {
		cfg.Media.Root = abs
	}
	if cfg.Store.Path == "" && cfg.Store.Backend == BackendSQLite {
		cfg.Store.Path = filepath.Join(cfg.Media.Root, "vodgate.db")
	}
	cfg.LogLevel = levelOrDefault(cfg.LogLevel, "info")
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file onto cfg with strict parsing. Keys absent from
// the file keep their current values.
func loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)

	cfg.API.ListenAddr = ParseString(EnvListenAddr, cfg.API.ListenAddr)
	cfg.API.RequireStreamToken = ParseBool(EnvRequireStreamToken, cfg.API.RequireStreamToken)
	cfg.API.MaxUploadBytes = ParseInt64(EnvMaxUploadBytes, cfg.API.MaxUploadBytes)
	cfg.API.RateLimitRPM = ParseInt(EnvRateLimitRPM, cfg.API.RateLimitRPM)
	cfg.API.TrustProxyHeaders = ParseBool(EnvTrustProxyHeaders, cfg.API.TrustProxyHeaders)
	cfg.API.AllowedOrigins = ParseList(EnvAllowedOrigins, cfg.API.AllowedOrigins)

	cfg.Media.Root = ParseString(EnvMediaRoot, cfg.Media.Root)
	cfg.Media.FFmpegBin = ParseString(EnvFFmpegBin, cfg.Media.FFmpegBin)
	cfg.Media.FFprobeBin = ParseString(EnvFFprobeBin, cfg.Media.FFprobeBin)
	cfg.Media.ProbeTimeout = ParseDuration(EnvProbeTimeout, cfg.Media.ProbeTimeout)

	cfg.Transcode.Workers = ParseInt(EnvTranscodeWorkers, cfg.Transcode.Workers)
	cfg.Transcode.QueueSize = ParseInt(EnvTranscodeQueueSize, cfg.Transcode.QueueSize)
	cfg.Transcode.RenditionParallelism = ParseInt(EnvRenditionParallelism, cfg.Transcode.RenditionParallelism)
	cfg.Transcode.TimeoutBase = ParseDuration(EnvTimeoutBase, cfg.Transcode.TimeoutBase)
	cfg.Transcode.TimeoutPerGB = ParseDuration(EnvTimeoutPerGB, cfg.Transcode.TimeoutPerGB)

	cfg.Store.Backend = strings.ToLower(ParseString(EnvStoreBackend, cfg.Store.Backend))
	cfg.Store.Path = ParseString(EnvStorePath, cfg.Store.Path)
	cfg.Store.Tokens = strings.ToLower(ParseString(EnvTokenBackend, cfg.Store.Tokens))
	cfg.Store.Redis.Addr = ParseString(EnvRedisAddr, cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = ParseString(EnvRedisPassword, cfg.Store.Redis.Password)
	cfg.Store.Redis.DB = ParseInt(EnvRedisDB, cfg.Store.Redis.DB)

	cfg.Telemetry.Enabled = ParseBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString(EnvOTLPExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString(EnvOTLPEndpoint, cfg.Telemetry.Endpoint)
}
