// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/vodgate/internal/domain/media"
)

// Defaults returns the configuration used when neither file nor env set a value.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		LogService: "vodgate",
		API: APIConfig{
			ListenAddr:         ":8080",
			RequireStreamToken: true,
			MaxUploadBytes:     4 << 30,
			RateLimitRPM:       120,
			DefaultTokenTTL:    60,
			ShutdownTimeout:    30 * time.Second,
		},
		Media: MediaConfig{
			Root:             "./media",
			FFmpegBin:        "ffmpeg",
			FFprobeBin:       "ffprobe",
			ProbeTimeout:     30 * time.Second,
			ThumbnailTimeout: 30 * time.Second,
		},
		Transcode: TranscodeConfig{
			Workers:              2,
			QueueSize:            64,
			RenditionParallelism: 1,
			TimeoutBase:          10 * time.Minute,
			TimeoutPerGB:         20 * time.Minute,
			Targets:              media.DefaultCatalog(),
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
