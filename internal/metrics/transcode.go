// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TranscodeAttempts counts rendition attempts by outcome (ok, failed, timeout, panic).
	TranscodeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodgate_transcode_attempts_total",
		Help: "Rendition transcode attempts by outcome",
	}, []string{"rendition", "outcome"})

	// TranscodeDuration tracks wall time of single rendition attempts.
	TranscodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vodgate_transcode_duration_seconds",
		Help:    "Duration of rendition transcode attempts",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
	}, []string{"rendition"})

	// TranscodeRuns counts whole-asset runs by result (processed, skipped, interrupted).
	TranscodeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodgate_transcode_runs_total",
		Help: "Asset transcode runs by result",
	}, []string{"result"})

	// TranscodeQueueDepth is the number of assets waiting for a worker.
	TranscodeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vodgate_transcode_queue_depth",
		Help: "Assets waiting for a transcode worker",
	})

	// TranscodeInFlight is the number of assets currently being transcoded.
	TranscodeInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vodgate_transcode_in_flight",
		Help: "Assets currently being transcoded",
	})

	// TranscodeQueueDropped counts enqueue requests rejected by a full queue.
	TranscodeQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodgate_transcode_queue_dropped_total",
		Help: "Enqueue requests dropped because the queue was full",
	})

	// ProbeTotal counts ffprobe invocations by outcome.
	ProbeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodgate_probe_total",
		Help: "Media probe invocations by outcome",
	}, []string{"outcome"})

	// ThumbnailTotal counts thumbnail requests by outcome (cached, generated, failed).
	ThumbnailTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodgate_thumbnail_total",
		Help: "Thumbnail requests by outcome",
	}, []string{"outcome"})
)

// ObserveRendition records one finished rendition attempt.
func ObserveRendition(rendition, outcome string, elapsed time.Duration) {
	TranscodeAttempts.WithLabelValues(rendition, outcome).Inc()
	TranscodeDuration.WithLabelValues(rendition).Observe(elapsed.Seconds())
}

// IncProbe records a probe outcome ("ok" or "failed").
func IncProbe(ok bool) {
	if ok {
		ProbeTotal.WithLabelValues("ok").Inc()
		return
	}
	ProbeTotal.WithLabelValues("failed").Inc()
}
