// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenEvents counts token operations (issue, validate, consume) by outcome.
	TokenEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodgate_token_events_total",
		Help: "Access token operations by outcome",
	}, []string{"op", "outcome"})

	// Uploads counts upload attempts by outcome.
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodgate_uploads_total",
		Help: "Video uploads by outcome",
	}, []string{"outcome"})

	// UploadBytes sums stored upload sizes.
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodgate_upload_bytes_total",
		Help: "Bytes of successfully stored uploads",
	})

	// StreamRequests counts manifest and segment deliveries by outcome.
	StreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vodgate_stream_requests_total",
		Help: "Stream deliveries by kind and outcome",
	}, []string{"kind", "outcome"})

	// Views counts recorded first-use views.
	Views = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vodgate_views_total",
		Help: "Views recorded by consumed video tokens",
	})
)

// IncTokenEvent records a token operation.
func IncTokenEvent(op, outcome string) {
	TokenEvents.WithLabelValues(op, outcome).Inc()
}

// IncStream records a stream delivery.
func IncStream(kind, outcome string) {
	StreamRequests.WithLabelValues(kind, outcome).Inc()
}
