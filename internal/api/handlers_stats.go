// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ManuGH/vodgate/internal/store"
)

func (s *Server) handleVideoStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "videoId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.deps.Reports.VideoStats(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTopVideos(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: limit must be an integer", errInvalidInput))
			return
		}
		limit = n
	}
	rows, err := s.deps.Reports.TopVideos(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handleTotalViews(w http.ResponseWriter, r *http.Request) {
	total, err := s.deps.Reports.TotalViews(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"totalViews": total})
}

func (s *Server) handleViewsByPeriod(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.deps.Reports.ViewsByPeriod(r.Context(), q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handleOverall(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Reports.Overall(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func nonNil(rows []store.VideoViews) []store.VideoViews {
	if rows == nil {
		return []store.VideoViews{}
	}
	return rows
}
