// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"

	"github.com/ManuGH/vodgate/internal/access"
	"github.com/ManuGH/vodgate/internal/api/problem"
	"github.com/ManuGH/vodgate/internal/library"
	xglog "github.com/ManuGH/vodgate/internal/log"
	"github.com/ManuGH/vodgate/internal/stats"
	"github.com/ManuGH/vodgate/internal/store"
	"github.com/ManuGH/vodgate/internal/stream"
	"github.com/ManuGH/vodgate/internal/transcode"
)

// writeError classifies err and writes the matching problem response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		maxBytes *http.MaxBytesError
		quality  *stream.QualityUnavailableError
	)
	switch {
	case errors.Is(err, errInvalidInput),
		errors.Is(err, library.ErrMissingFile),
		errors.Is(err, library.ErrMissingTitle),
		errors.Is(err, library.ErrMissingOwner),
		errors.Is(err, access.ErrInvalidTTL),
		errors.Is(err, stats.ErrInvalidRange):
		writeProblem(w, r, http.StatusBadRequest, "INVALID_INPUT", "Invalid Input", err.Error())

	case errors.Is(err, library.ErrTooLarge), errors.As(err, &maxBytes):
		writeProblem(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Payload Too Large", "upload exceeds the configured size limit")

	case errors.Is(err, access.ErrTokenScope):
		writeProblem(w, r, http.StatusForbidden, "TOKEN_SCOPE", "Token Not Valid For This Video", "")
	case errors.Is(err, access.ErrTokenUsed):
		writeProblem(w, r, http.StatusUnauthorized, "TOKEN_USED", "Token Already Used", "")
	case errors.Is(err, access.ErrTokenExpired):
		writeProblem(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token Expired", "")
	case errors.Is(err, access.ErrUnauthorized):
		writeProblem(w, r, http.StatusUnauthorized, "TOKEN_INVALID", "Token Invalid", "")

	case errors.As(err, &quality):
		problem.Write(w, r, http.StatusNotFound, "QUALITY_UNAVAILABLE", "Quality Unavailable", quality.Error(),
			map[string]any{"quality": quality.Quality})
	case errors.Is(err, stream.ErrSegmentNotFound):
		writeProblem(w, r, http.StatusNotFound, "SEGMENT_NOT_FOUND", "Segment Not Found", "")
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "VIDEO_NOT_FOUND", "Video Not Found", "")

	case errors.Is(err, stream.ErrNotProcessed):
		writeProblem(w, r, http.StatusConflict, "VIDEO_NOT_PROCESSED", "Video Not Processed", "transcoding has not finished for this video")
	case errors.Is(err, transcode.ErrAlreadyTranscoding),
		errors.Is(err, transcode.ErrAlreadyProcessed),
		errors.Is(err, transcode.ErrNotReady):
		writeProblem(w, r, http.StatusConflict, "TRANSCODE_CONFLICT", "Transcode Conflict", err.Error())
	case errors.Is(err, transcode.ErrQueueFull):
		w.Header().Set("Retry-After", "30")
		writeProblem(w, r, http.StatusServiceUnavailable, "QUEUE_FULL", "Transcode Queue Full", "")

	case errors.Is(err, library.ErrThumbnail):
		writeProblem(w, r, http.StatusBadGateway, "THUMBNAIL_FAILED", "Thumbnail Generation Failed", "")

	default:
		logger := xglog.WithContext(r.Context(), s.logger)
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "request.failed").
			Str("method", r.Method).
			Str(xglog.FieldPath, r.URL.Path).
			Msg("unhandled request error")
		writeProblem(w, r, http.StatusInternalServerError, "INTERNAL", "Internal Server Error", "")
	}
}
