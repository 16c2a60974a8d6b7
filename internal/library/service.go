// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package library owns the upload boundary: storing originals, probing them,
// handing them to the transcode pool, thumbnails and deletion.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/vodgate/internal/clock"
	"github.com/ManuGH/vodgate/internal/domain/media"
	"github.com/ManuGH/vodgate/internal/infra/ffmpeg"
	xglog "github.com/ManuGH/vodgate/internal/log"
	"github.com/ManuGH/vodgate/internal/metrics"
	"github.com/ManuGH/vodgate/internal/store"
)

var (
	ErrMissingFile  = errors.New("library: file is required")
	ErrMissingTitle = errors.New("library: title is required")
	ErrMissingOwner = errors.New("library: owner id is required")
	ErrTooLarge     = errors.New("library: upload exceeds size limit")
	ErrThumbnail    = errors.New("library: thumbnail generation failed")
)

// sniffLen is how much of the upload is buffered for content detection.
const sniffLen = 3072

// Prober extracts metadata from a stored original.
type Prober interface {
	Probe(ctx context.Context, path string) (ffmpeg.ProbeResult, error)
}

// Thumbnailer writes a poster frame of input to output.
type Thumbnailer interface {
	Extract(ctx context.Context, input, output string) error
}

// Scheduler is the part of the transcode orchestrator the library drives.
type Scheduler interface {
	Enqueue(id int64) bool
	OnIdle(id int64, fn func()) bool
}

// UploadInput is one multipart upload.
type UploadInput struct {
	Title            string
	Description      string
	Tags             []string
	OwnerID          int64
	OriginalFilename string
	Body             io.Reader
}

// Config wires a Service.
type Config struct {
	Store          store.VideoStore
	Layout         media.Layout
	Prober         Prober
	Thumbnailer    Thumbnailer
	Scheduler      Scheduler
	Clock          clock.Clock
	Logger         zerolog.Logger
	MaxUploadBytes int64
}

// Service implements ingestion, thumbnails and deletion.
type Service struct {
	store       store.VideoStore
	layout      media.Layout
	prober      Prober
	thumbnailer Thumbnailer
	scheduler   Scheduler
	clock       clock.Clock
	logger      zerolog.Logger
	maxBytes    int64

	thumbs singleflight.Group
}

// NewService builds a Service.
func NewService(cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		store:       cfg.Store,
		layout:      cfg.Layout,
		prober:      cfg.Prober,
		thumbnailer: cfg.Thumbnailer,
		scheduler:   cfg.Scheduler,
		clock:       clk,
		logger:      cfg.Logger.With().Str(xglog.FieldComponent, "library").Logger(),
		maxBytes:    cfg.MaxUploadBytes,
	}
}

// Upload stores the original, records the asset, probes it and queues it
// for transcoding. Probe failures leave the metadata empty and do not fail
// the upload.
func (s *Service) Upload(ctx context.Context, in UploadInput) (store.Video, error) {
	if err := validateUpload(in); err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return store.Video{}, err
	}
	logger := xglog.WithContext(ctx, s.logger)

	stored, path, err := s.reserveName(in.OriginalFilename)
	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		return store.Video{}, err
	}
	size, contentType, err := s.writeSource(path, in.Body)
	if err != nil {
		s.release(logger, stored)
		outcome := "failed"
		if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrMissingFile) {
			outcome = "rejected"
		}
		metrics.Uploads.WithLabelValues(outcome).Inc()
		return store.Video{}, err
	}

	v, err := s.store.CreateVideo(ctx, store.Video{
		Title:            strings.TrimSpace(in.Title),
		Description:      strings.TrimSpace(in.Description),
		Filename:         stored,
		OriginalFilename: in.OriginalFilename,
		FileSize:         size,
		ContentType:      contentType,
		OwnerID:          in.OwnerID,
		Tags:             normalizeTags(in.Tags),
	})
	if err != nil {
		s.removeFile(logger, path)
		s.release(logger, stored)
		metrics.Uploads.WithLabelValues("failed").Inc()
		return store.Video{}, fmt.Errorf("create video: %w", err)
	}
	logger = logger.With().Int64(xglog.FieldVideoID, v.ID).Logger()

	if err := s.store.AdvanceState(ctx, v.ID, store.StateUploaded, store.StateProbing); err != nil {
		s.abandon(logger, v.ID, stored, path)
		metrics.Uploads.WithLabelValues("failed").Inc()
		return store.Video{}, fmt.Errorf("start probing: %w", err)
	}

	meta := s.probe(ctx, logger, path)
	if err := s.store.ApplyProbe(ctx, v.ID, meta); err != nil {
		s.abandon(logger, v.ID, stored, path)
		metrics.Uploads.WithLabelValues("failed").Inc()
		return store.Video{}, fmt.Errorf("apply probe: %w", err)
	}

	metrics.Uploads.WithLabelValues("ok").Inc()
	metrics.UploadBytes.Add(float64(size))
	logger.Info().
		Str(xglog.FieldEvent, "upload.stored").
		Str(xglog.FieldPath, path).
		Int64("size", size).
		Str("content_type", contentType).
		Bool("probed", meta != nil).
		Msg("upload stored")

	if s.scheduler != nil {
		s.scheduler.Enqueue(v.ID)
	}
	return s.store.GetVideo(ctx, v.ID)
}

func validateUpload(in UploadInput) error {
	if in.Body == nil || strings.TrimSpace(in.OriginalFilename) == "" {
		return ErrMissingFile
	}
	if strings.TrimSpace(in.Title) == "" {
		return ErrMissingTitle
	}
	if in.OwnerID <= 0 {
		return ErrMissingOwner
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// reserveName picks a stored filename whose source file and rendition
// directory are both unused, and claims the rendition directory. Names that
// differ only in extension share a rendition directory, so the claim is what
// keeps two assets apart.
func (s *Service) reserveName(original string) (stored, path string, err error) {
	if err := os.MkdirAll(s.layout.TranscodedDir(), 0o755); err != nil {
		return "", "", fmt.Errorf("create transcoded dir: %w", err)
	}
	now := s.clock.Now()
	for {
		stored = media.StoredFilename(now, original)
		path = s.layout.SourcePath(stored)
		now = now.Add(time.Millisecond)
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		err := os.Mkdir(s.layout.RenditionDir(stored), 0o755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("claim rendition dir: %w", err)
		}
		return stored, path, nil
	}
}

// writeSource streams body to path atomically and sniffs its content type.
func (s *Service) writeSource(path string, body io.Reader) (int64, string, error) {
	if s.maxBytes > 0 {
		body = io.LimitReader(body, s.maxBytes+1)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, "", fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return 0, "", ErrMissingFile
	}
	head = head[:n]

	if err := os.MkdirAll(s.layout.SourceDir(), 0o755); err != nil {
		return 0, "", fmt.Errorf("create source dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return 0, "", fmt.Errorf("create pending upload: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Str(xglog.FieldPath, path).Msg("cleanup pending upload")
		}
	}()

	if _, err := pending.Write(head); err != nil {
		return 0, "", fmt.Errorf("write upload: %w", err)
	}
	rest, err := io.Copy(pending, body)
	if err != nil {
		return 0, "", fmt.Errorf("write upload: %w", err)
	}
	size := int64(n) + rest
	if s.maxBytes > 0 && size > s.maxBytes {
		return 0, "", ErrTooLarge
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, "", fmt.Errorf("commit upload: %w", err)
	}
	return size, mimetype.Detect(head).String(), nil
}

func (s *Service) probe(ctx context.Context, logger zerolog.Logger, path string) *store.Metadata {
	if s.prober == nil {
		return nil
	}
	res, err := s.prober.Probe(ctx, path)
	if err != nil {
		metrics.IncProbe(false)
		logger.Warn().Err(err).Str(xglog.FieldEvent, "probe.failed").Msg("probe failed, storing asset without metadata")
		return nil
	}
	metrics.IncProbe(true)
	return &store.Metadata{
		DurationSeconds: res.DurationSeconds,
		Resolution:      res.Resolution,
		Format:          res.Format,
	}
}

func (s *Service) abandon(logger zerolog.Logger, id int64, stored, path string) {
	if err := s.store.DeleteVideo(context.Background(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error().Err(err).Msg("remove abandoned asset record")
	}
	s.removeFile(logger, path)
	s.release(logger, stored)
}

// release drops the rendition directory claimed by reserveName.
func (s *Service) release(logger zerolog.Logger, stored string) {
	if err := os.RemoveAll(s.layout.RenditionDir(stored)); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldPath, s.layout.RenditionDir(stored)).Msg("release rendition dir")
	}
}

func (s *Service) removeFile(logger zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str(xglog.FieldPath, path).Msg("remove file")
	}
}

// Get returns one asset.
func (s *Service) Get(ctx context.Context, id int64) (store.Video, error) {
	return s.store.GetVideo(ctx, id)
}

// List returns every asset, newest first.
func (s *Service) List(ctx context.Context) ([]store.Video, error) {
	return s.store.ListVideos(ctx)
}

// Search filters assets by a case-insensitive match on title or description
// and by sharing at least one of tags. Empty criteria match everything.
func (s *Service) Search(ctx context.Context, query string, tags []string) ([]store.Video, error) {
	videos, err := s.store.ListVideos(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	want := normalizeTags(tags)
	out := make([]store.Video, 0, len(videos))
	for _, v := range videos {
		if query != "" &&
			!strings.Contains(strings.ToLower(v.Title), query) &&
			!strings.Contains(strings.ToLower(v.Description), query) {
			continue
		}
		if len(want) > 0 && !sharesTag(v.Tags, want) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func sharesTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// Update edits title, description or tags. Nil fields stay unchanged.
func (s *Service) Update(ctx context.Context, id int64, d store.Details) (store.Video, error) {
	if d.Title != nil {
		title := strings.TrimSpace(*d.Title)
		if title == "" {
			return store.Video{}, ErrMissingTitle
		}
		d.Title = &title
	}
	if d.Description != nil {
		desc := strings.TrimSpace(*d.Description)
		d.Description = &desc
	}
	if d.Tags != nil {
		tags := normalizeTags(*d.Tags)
		d.Tags = &tags
	}
	return s.store.UpdateDetails(ctx, id, d)
}

// Thumbnail returns the poster frame path of id, generating it on first
// request. Concurrent first requests share one ffmpeg run.
func (s *Service) Thumbnail(ctx context.Context, id int64) (string, error) {
	v, err := s.store.GetVideo(ctx, id)
	if err != nil {
		return "", err
	}
	path := s.layout.ThumbnailPath(id)
	if fileExists(path) {
		if v.ThumbnailPath == nil || *v.ThumbnailPath != path {
			if err := s.store.SetThumbnail(ctx, id, path); err != nil {
				return "", fmt.Errorf("persist thumbnail: %w", err)
			}
		}
		metrics.ThumbnailTotal.WithLabelValues("cached").Inc()
		return path, nil
	}
	if s.thumbnailer == nil {
		return "", fmt.Errorf("%w: no thumbnailer configured", ErrThumbnail)
	}

	// The shared run outlives any single caller; each caller may still give
	// up on its own context.
	shared := context.WithoutCancel(ctx)
	ch := s.thumbs.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		if fileExists(path) {
			return path, nil
		}
		if err := os.MkdirAll(s.layout.ThumbnailDir(), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrThumbnail, err)
		}
		if err := s.thumbnailer.Extract(shared, s.layout.SourcePath(v.Filename), path); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrThumbnail, err)
		}
		if err := s.store.SetThumbnail(shared, id, path); err != nil {
			return nil, fmt.Errorf("persist thumbnail: %w", err)
		}
		return path, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.Err != nil {
		metrics.ThumbnailTotal.WithLabelValues("failed").Inc()
		logger := xglog.WithContext(ctx, s.logger)
		logger.Warn().Err(res.Err).
			Int64(xglog.FieldVideoID, id).
			Str(xglog.FieldEvent, "thumbnail.failed").
			Msg("thumbnail generation failed")
		return "", res.Err
	}
	metrics.ThumbnailTotal.WithLabelValues("generated").Inc()
	return res.Val.(string), nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Delete removes the asset, its files and its records. When a transcode run
// is in flight the removal waits for it and deferred is true.
func (s *Service) Delete(ctx context.Context, id int64) (deferred bool, err error) {
	v, err := s.store.GetVideo(ctx, id)
	if err != nil {
		return false, err
	}
	logger := xglog.WithContext(ctx, s.logger).With().Int64(xglog.FieldVideoID, id).Logger()
	bg := context.WithoutCancel(ctx)

	var removeErr error
	remove := func() { removeErr = s.remove(bg, logger, v) }
	if s.scheduler == nil {
		remove()
		return false, removeErr
	}
	if s.scheduler.OnIdle(id, remove) {
		logger.Info().Str(xglog.FieldEvent, "delete.deferred").Msg("asset is transcoding, deletion deferred")
		return true, nil
	}
	return false, removeErr
}

func (s *Service) remove(ctx context.Context, logger zerolog.Logger, v store.Video) error {
	s.removeFile(logger, s.layout.SourcePath(v.Filename))
	if err := os.RemoveAll(s.layout.RenditionDir(v.Filename)); err != nil {
		logger.Warn().Err(err).Msg("remove renditions")
	}
	s.removeFile(logger, s.layout.ThumbnailPath(v.ID))

	if err := s.store.DeleteVideo(ctx, v.ID); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "delete.failed").Msg("delete asset record")
		return fmt.Errorf("delete video: %w", err)
	}
	logger.Info().Str(xglog.FieldEvent, "delete.done").Msg("asset deleted")
	return nil
}
