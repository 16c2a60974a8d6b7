// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package problem writes RFC 7807 problem details responses.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/vodgate/internal/log"
)

const (
	// HeaderRequestID carries the request correlation id.
	HeaderRequestID = "X-Request-ID"
	// JSONKeyRequestID is the problem body field holding the request id.
	JSONKeyRequestID = "requestId"
	// ContentType is the media type of problem responses.
	ContentType = "application/problem+json"
)

// Write writes a problem details response.
//
//   - code: stable machine-readable short code (e.g. "VIDEO_NOT_FOUND"),
//     also used to derive the "type" member.
//   - title: human-readable short label.
//   - detail: explanation of this occurrence, omitted when empty.
//
// Extra members are added at top level; reserved keys are ignored.
func Write(w http.ResponseWriter, r *http.Request, status int, code, title, detail string, extra map[string]any) {
	reqID := ""
	instance := ""
	if r != nil {
		reqID = log.RequestIDFromContext(r.Context())
		instance = r.URL.EscapedPath()
	}
	if reqID == "" {
		reqID = w.Header().Get(HeaderRequestID)
	}

	res := map[string]any{
		"type":   "urn:vodgate:problem:" + code,
		"title":  title,
		"status": status,
		"code":   code,
	}
	if reqID != "" {
		res[JSONKeyRequestID] = reqID
	}
	if detail != "" {
		res["detail"] = detail
	}
	if instance != "" {
		res["instance"] = instance
	}
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code", JSONKeyRequestID:
			continue
		}
		res[k] = v
	}

	if reqID != "" {
		w.Header().Set(HeaderRequestID, reqID)
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(res); err != nil {
		logger := log.WithComponent("problem")
		logger.Error().
			Err(err).
			Str("code", code).
			Int("status", status).
			Msg("failed to encode problem response")
	}
}
