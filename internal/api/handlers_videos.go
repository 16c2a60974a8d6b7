// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/vodgate/internal/library"
	"github.com/ManuGH/vodgate/internal/store"
)

const (
	multipartMemory = 32 << 20
	// multipartSlack covers form fields and boundaries on top of the file.
	multipartSlack = 1 << 20
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartSlack)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, fmt.Errorf("%w: %v", errInvalidInput, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		s.writeError(w, r, library.ErrMissingFile)
		return
	}
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errInvalidInput, err))
		return
	}
	defer file.Close()

	var owner int64
	if raw := strings.TrimSpace(r.FormValue("ownerId")); raw != "" {
		owner, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: ownerId must be an integer", errInvalidInput))
			return
		}
	}

	v, err := s.deps.Library.Upload(r.Context(), library.UploadInput{
		Title:            r.FormValue("title"),
		Description:      r.FormValue("description"),
		Tags:             splitList(r.MultipartForm.Value["tags"]...),
		OwnerID:          owner,
		OriginalFilename: header.Filename,
		Body:             file,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := s.deps.Library.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

func (s *Server) handleSearchVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	videos, err := s.deps.Library.Search(r.Context(), q.Get("q"), splitList(q["tags"]...))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.deps.Library.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type updateVideoBody struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}

func (s *Server) handleUpdateVideo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body updateVideoBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.deps.Library.Update(r.Context(), id, store.Details{
		Title:       body.Title,
		Description: body.Description,
		Tags:        body.Tags,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deferred, err := s.deps.Library.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if deferred {
		writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "deferred": true})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Reprocess.Reprocess(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": "queued"})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	path, err := s.deps.Library.Thumbnail(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}
