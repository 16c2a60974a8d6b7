// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/vodgate/internal/access"
	"github.com/ManuGH/vodgate/internal/store"
)

type issueTokenBody struct {
	UserID           *int64 `json:"userId"`
	VideoID          *int64 `json:"videoId"`
	PlaylistID       *int64 `json:"playlistId"`
	ExpiresInMinutes *int   `json:"expiresInMinutes"`
}

func (b issueTokenBody) request() access.IssueRequest {
	return access.IssueRequest{
		UserID:     b.UserID,
		VideoID:    b.VideoID,
		PlaylistID: b.PlaylistID,
		TTLMinutes: b.ExpiresInMinutes,
	}
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var body issueTokenBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.issue(w, r, body.request())
}

func (s *Server) handleIssueVideoToken(w http.ResponseWriter, r *http.Request) {
	videoID, err := pathID(r, "videoId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body issueTokenBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req := body.request()
	req.VideoID = &videoID
	req.PlaylistID = nil
	s.issue(w, r, req)
}

func (s *Server) handleIssuePlaylistToken(w http.ResponseWriter, r *http.Request) {
	playlistID, err := pathID(r, "playlistId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body issueTokenBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req := body.request()
	req.PlaylistID = &playlistID
	req.VideoID = nil
	s.issue(w, r, req)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, req access.IssueRequest) {
	tok, err := s.deps.Tokens.Issue(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.deps.Tokens.Validate(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleUseToken(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Tokens.Consume(r.Context(), chi.URLParam(r, "token"), s.clientIP(r), r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Token)
}

func (s *Server) handleAccessLogs(w http.ResponseWriter, r *http.Request) {
	videoID, err := queryID(r, "videoId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := queryID(r, "userId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logs, err := s.deps.Reports.AccessLogs(r.Context(), videoID, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []store.AccessLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleTokenStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Reports.TokenCounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
