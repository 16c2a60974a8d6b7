// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stream maps a video and quality to the files that play it.
package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/vodgate/internal/domain/media"
	"github.com/ManuGH/vodgate/internal/store"
)

var (
	ErrNotProcessed       = errors.New("stream: video not processed")
	ErrQualityUnavailable = errors.New("stream: quality unavailable")
	ErrSegmentNotFound    = errors.New("stream: segment not found")
)

// QualityUnavailableError names the quality that could not be served.
type QualityUnavailableError struct {
	Quality string
}

func (e *QualityUnavailableError) Error() string {
	return fmt.Sprintf("stream: quality %q unavailable", e.Quality)
}

func (e *QualityUnavailableError) Is(target error) bool {
	return target == ErrQualityUnavailable
}

// Resolver locates rendition manifests and segments on disk.
type Resolver struct {
	videos store.VideoStore
	layout media.Layout
}

func NewResolver(videos store.VideoStore, layout media.Layout) *Resolver {
	return &Resolver{videos: videos, layout: layout}
}

// Resolve returns the manifest path of quality for videoID. A video counts as
// processed only when its state says so and its rendition directory exists.
func (r *Resolver) Resolve(ctx context.Context, videoID int64, quality string) (string, error) {
	v, err := r.processed(ctx, videoID)
	if err != nil {
		return "", err
	}
	if !media.ValidRenditionName(quality) {
		return "", &QualityUnavailableError{Quality: quality}
	}
	path := r.layout.ManifestPath(v.Filename, quality)
	if !isFile(path) {
		return "", &QualityUnavailableError{Quality: quality}
	}
	return path, nil
}

// ResolveSegment returns the path of a media segment inside the video's
// rendition directory.
func (r *Resolver) ResolveSegment(ctx context.Context, videoID int64, segment string) (string, error) {
	v, err := r.processed(ctx, videoID)
	if err != nil {
		return "", err
	}
	if !media.ValidSegmentName(segment) {
		return "", ErrSegmentNotFound
	}
	path := filepath.Join(r.layout.RenditionDir(v.Filename), segment)
	if !isFile(path) {
		return "", ErrSegmentNotFound
	}
	return path, nil
}

func (r *Resolver) processed(ctx context.Context, videoID int64) (store.Video, error) {
	v, err := r.videos.GetVideo(ctx, videoID)
	if err != nil {
		return store.Video{}, err
	}
	if v.State != store.StateProcessed {
		return store.Video{}, ErrNotProcessed
	}
	fi, err := os.Stat(r.layout.RenditionDir(v.Filename))
	if err != nil || !fi.IsDir() {
		return store.Video{}, ErrNotProcessed
	}
	return v, nil
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
