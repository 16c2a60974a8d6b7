// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPTargetKey     = "http.target"

	VideoIDKey          = "video.id"
	VideoSizeKey        = "video.size_bytes"
	RenditionKey        = "rendition.name"
	RenditionResKey     = "rendition.resolution"
	RenditionBitrateKey = "rendition.bitrate_kbps"
	RenditionOutcomeKey = "rendition.outcome"

	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, target string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPTargetKey, target),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// VideoAttributes identifies the asset a span works on.
func VideoAttributes(id, size int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(VideoIDKey, id),
		attribute.Int64(VideoSizeKey, size),
	}
}

// RenditionAttributes describes one rendition attempt.
func RenditionAttributes(name, resolution string, bitrateKbps int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RenditionKey, name),
		attribute.String(RenditionResKey, resolution),
		attribute.Int(RenditionBitrateKey, bitrateKbps),
	}
}
