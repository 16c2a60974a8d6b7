// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists video assets, view counters, access logs and tokens.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrStateConflict is returned when a compare-and-set on the processing
	// state observes a different current state.
	ErrStateConflict = errors.New("store: processing state conflict")
	// ErrInvalidTransition is returned for transitions CanAdvance rejects.
	ErrInvalidTransition = errors.New("store: invalid state transition")
	// ErrDuplicateToken is returned when a token string already exists.
	ErrDuplicateToken = errors.New("store: duplicate token")
)

// VideoStore persists assets and their processing state.
type VideoStore interface {
	// CreateVideo inserts v in state uploaded together with a zero view counter.
	CreateVideo(ctx context.Context, v Video) (Video, error)
	GetVideo(ctx context.Context, id int64) (Video, error)
	// ListVideos returns every asset, newest first.
	ListVideos(ctx context.Context) ([]Video, error)
	ListVideosByState(ctx context.Context, state ProcessingState) ([]Video, error)
	// AdvanceState moves id from one state to its successor atomically.
	AdvanceState(ctx context.Context, id int64, from, to ProcessingState) error
	// ApplyProbe stores meta (nil clears it) and moves probing to ready in
	// one write.
	ApplyProbe(ctx context.Context, id int64, meta *Metadata) error
	SetThumbnail(ctx context.Context, id int64, path string) error
	// UpdateDetails edits the user supplied fields and returns the result.
	UpdateDetails(ctx context.Context, id int64, d Details) (Video, error)
	// DeleteVideo removes the asset with its counter and access logs.
	DeleteVideo(ctx context.Context, id int64) error
}

// StatsStore persists view counters and access logs.
type StatsStore interface {
	GetStats(ctx context.Context, videoID int64) (VideoStats, error)
	// RecordView appends entry and increments the counter of entry.VideoID
	// as one unit.
	RecordView(ctx context.Context, entry AccessLog) (VideoStats, error)
	TotalViews(ctx context.Context) (int64, error)
	TopVideos(ctx context.Context, limit int) ([]VideoViews, error)
	// ViewsByPeriod returns counters whose last view lies in [start, end].
	ViewsByPeriod(ctx context.Context, start, end time.Time) ([]VideoViews, error)
	CountVideos(ctx context.Context) (int64, error)
	ListAccessLogs(ctx context.Context, filter AccessLogFilter) ([]AccessLog, error)
}

// TokenStore persists access tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, t Token) (Token, error)
	GetToken(ctx context.Context, token string) (Token, error)
	// MarkTokenUsed flips used from false to true. It reports false when the
	// token was already used, so exactly one concurrent caller wins.
	MarkTokenUsed(ctx context.Context, token string) (bool, error)
	// ReleaseToken flips used back to false. It undoes a spend whose view
	// could not be recorded.
	ReleaseToken(ctx context.Context, token string) error
	TokenCounts(ctx context.Context, now time.Time) (TokenCounts, error)
}

// TokenSpender spends a token and records the view it grants as one unit.
type TokenSpender interface {
	// SpendToken flips token from unused to used and, when view is not nil,
	// appends view and increments the counter of view.VideoID. It reports
	// false when the token was already used. On error the token stays unused
	// and nothing is recorded.
	SpendToken(ctx context.Context, token string, view *AccessLog) (bool, VideoStats, error)
}

// Store bundles every persistence concern behind one handle.
type Store interface {
	VideoStore
	StatsStore
	TokenStore
	TokenSpender
	Close() error
}

func checkTransition(from, to ProcessingState) error {
	if !CanAdvance(from, to) {
		return ErrInvalidTransition
	}
	return nil
}
