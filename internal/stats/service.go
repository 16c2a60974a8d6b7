// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stats answers view and token reporting queries.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ManuGH/vodgate/internal/clock"
	"github.com/ManuGH/vodgate/internal/store"
)

const (
	DefaultTopLimit = 10
	MaxTopLimit     = 100

	// DateLayout is the calendar date format accepted for period queries.
	DateLayout = "2006-01-02"
)

// ErrInvalidRange is returned for unparsable or inverted periods.
var ErrInvalidRange = errors.New("stats: invalid date range")

// Overall summarises the whole catalog.
type Overall struct {
	TotalVideos  int64   `json:"totalVideos"`
	TotalViews   int64   `json:"totalViews"`
	AverageViews float64 `json:"averageViews"`
}

type Service struct {
	stats  store.StatsStore
	tokens store.TokenStore
	clock  clock.Clock
}

func NewService(stats store.StatsStore, tokens store.TokenStore, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{stats: stats, tokens: tokens, clock: clk}
}

func (s *Service) VideoStats(ctx context.Context, videoID int64) (store.VideoStats, error) {
	return s.stats.GetStats(ctx, videoID)
}

func (s *Service) TotalViews(ctx context.Context) (int64, error) {
	return s.stats.TotalViews(ctx)
}

// TopVideos returns the most viewed videos. Non-positive limits use the
// default; larger ones are capped.
func (s *Service) TopVideos(ctx context.Context, limit int) ([]store.VideoViews, error) {
	return s.stats.TopVideos(ctx, ClampLimit(limit))
}

// ClampLimit applies the top-N default and cap.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultTopLimit
	case limit > MaxTopLimit:
		return MaxTopLimit
	default:
		return limit
	}
}

// ParsePeriod turns two calendar dates into an inclusive UTC range covering
// both whole days.
func ParsePeriod(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start date %q", ErrInvalidRange, startDate)
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end date %q", ErrInvalidRange, endDate)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end before start", ErrInvalidRange)
	}
	return start, end.Add(24*time.Hour - time.Millisecond), nil
}

// ViewsByPeriod lists videos last viewed between the two dates, most viewed
// first.
func (s *Service) ViewsByPeriod(ctx context.Context, startDate, endDate string) ([]store.VideoViews, error) {
	start, end, err := ParsePeriod(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return s.stats.ViewsByPeriod(ctx, start, end)
}

func (s *Service) Overall(ctx context.Context) (Overall, error) {
	videos, err := s.stats.CountVideos(ctx)
	if err != nil {
		return Overall{}, fmt.Errorf("count videos: %w", err)
	}
	views, err := s.stats.TotalViews(ctx)
	if err != nil {
		return Overall{}, fmt.Errorf("total views: %w", err)
	}
	o := Overall{TotalVideos: videos, TotalViews: views}
	if videos > 0 {
		o.AverageViews = math.Round(float64(views)/float64(videos)*100) / 100
	}
	return o, nil
}

// TokenCounts classifies every token as of now.
func (s *Service) TokenCounts(ctx context.Context) (store.TokenCounts, error) {
	return s.tokens.TokenCounts(ctx, s.clock.Now())
}

// AccessLogs lists log entries newest first, optionally filtered.
func (s *Service) AccessLogs(ctx context.Context, videoID, userID *int64) ([]store.AccessLog, error) {
	return s.stats.ListAccessLogs(ctx, store.AccessLogFilter{VideoID: videoID, UserID: userID})
}
