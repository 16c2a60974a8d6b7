// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/vodgate/internal/access"
	"github.com/ManuGH/vodgate/internal/domain/media"
	"github.com/ManuGH/vodgate/internal/metrics"
)

const (
	contentTypeManifest = "application/vnd.apple.mpegurl"
	contentTypeSegment  = "video/mp2t"
)

// handleStream serves a rendition manifest, spending the caller's token,
// or one of its segments when the last path element ends in .ts.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	quality := chi.URLParam(r, "quality")
	if strings.HasSuffix(quality, media.SegmentExt) {
		s.serveSegment(w, r, id, quality)
		return
	}

	// Resolve before spending the token so a request for an unavailable
	// rendition does not burn it.
	path, err := s.deps.Streams.Resolve(r.Context(), id, quality)
	if err != nil {
		metrics.IncStream("manifest", "unavailable")
		s.writeError(w, r, err)
		return
	}
	if s.cfg.RequireStreamToken {
		token := r.URL.Query().Get("token")
		if token == "" {
			metrics.IncStream("manifest", "unauthorized")
			s.writeError(w, r, access.ErrTokenInvalid)
			return
		}
		if _, err := s.deps.Tokens.ConsumeForVideo(r.Context(), token, id, s.clientIP(r), r.UserAgent()); err != nil {
			metrics.IncStream("manifest", "unauthorized")
			s.writeError(w, r, err)
			return
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		metrics.IncStream("manifest", "error")
		s.writeError(w, r, err)
		return
	}
	metrics.IncStream("manifest", "ok")
	w.Header().Set("Content-Type", contentTypeManifest)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) serveSegment(w http.ResponseWriter, r *http.Request, id int64, segment string) {
	path, err := s.deps.Streams.ResolveSegment(r.Context(), id, segment)
	if err != nil {
		metrics.IncStream("segment", "unavailable")
		s.writeError(w, r, err)
		return
	}
	metrics.IncStream("segment", "ok")
	w.Header().Set("Content-Type", contentTypeSegment)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeFile(w, r, path)
}
