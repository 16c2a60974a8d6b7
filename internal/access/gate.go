// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package access issues, validates and consumes single-use playback tokens.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/vodgate/internal/clock"
	xglog "github.com/ManuGH/vodgate/internal/log"
	"github.com/ManuGH/vodgate/internal/metrics"
	"github.com/ManuGH/vodgate/internal/store"
)

// ErrUnauthorized is matched by every token rejection.
var ErrUnauthorized = errors.New("access: unauthorized")

var (
	ErrTokenInvalid = fmt.Errorf("%w: token invalid", ErrUnauthorized)
	ErrTokenUsed    = fmt.Errorf("%w: token already used", ErrUnauthorized)
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthorized)
	// ErrTokenScope rejects a token bound to a different video. The token is
	// not spent.
	ErrTokenScope = fmt.Errorf("%w: token not valid for this video", ErrUnauthorized)

	ErrInvalidTTL = errors.New("access: ttl must be at least one minute")
)

// DefaultTTLMinutes applies when a request names no TTL.
const DefaultTTLMinutes = 60

const maxIssueAttempts = 3

// IssueRequest describes a token to mint. Nil ids leave the token unscoped
// for that dimension; a nil TTL uses the gate default.
type IssueRequest struct {
	UserID     *int64
	VideoID    *int64
	PlaylistID *int64
	TTLMinutes *int
}

// ConsumeResult is returned by a successful first use.
type ConsumeResult struct {
	Token store.Token
	// Stats is the view counter after the increment, nil for tokens not
	// bound to a video.
	Stats *store.VideoStats
}

// Config wires a Gate.
type Config struct {
	Tokens     store.TokenStore
	Videos     store.VideoStore
	Stats      store.StatsStore
	Clock      clock.Clock
	DefaultTTL int
	Logger     zerolog.Logger
}

// Gate is the token authority.
type Gate struct {
	tokens     store.TokenStore
	spender    store.TokenSpender
	videos     store.VideoStore
	stats      store.StatsStore
	clock      clock.Clock
	defaultTTL int
	logger     zerolog.Logger
}

// NewGate builds a Gate.
func NewGate(cfg Config) *Gate {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTLMinutes
	}
	return &Gate{
		tokens:     cfg.Tokens,
		spender:    store.NewSpender(cfg.Tokens, cfg.Stats),
		videos:     cfg.Videos,
		stats:      cfg.Stats,
		clock:      clk,
		defaultTTL: ttl,
		logger:     cfg.Logger.With().Str(xglog.FieldComponent, "access").Logger(),
	}
}

// Issue mints a token. A video-scoped request fails with store.ErrNotFound
// when the video does not exist.
func (g *Gate) Issue(ctx context.Context, req IssueRequest) (store.Token, error) {
	ttl := g.defaultTTL
	if req.TTLMinutes != nil {
		ttl = *req.TTLMinutes
	}
	if ttl < 1 {
		metrics.IncTokenEvent("issue", "rejected")
		return store.Token{}, ErrInvalidTTL
	}
	if req.VideoID != nil {
		if _, err := g.videos.GetVideo(ctx, *req.VideoID); err != nil {
			metrics.IncTokenEvent("issue", "rejected")
			return store.Token{}, err
		}
	}

	now := g.clock.Now()
	t := store.Token{
		UserID:     req.UserID,
		VideoID:    req.VideoID,
		PlaylistID: req.PlaylistID,
		ExpiresAt:  now.Add(time.Duration(ttl) * time.Minute),
		CreatedAt:  now,
	}
	var (
		created store.Token
		err     error
	)
	for i := 0; i < maxIssueAttempts; i++ {
		t.Token = uuid.NewString()
		created, err = g.tokens.CreateToken(ctx, t)
		if !errors.Is(err, store.ErrDuplicateToken) {
			break
		}
	}
	if err != nil {
		metrics.IncTokenEvent("issue", "error")
		return store.Token{}, fmt.Errorf("create token: %w", err)
	}

	metrics.IncTokenEvent("issue", "ok")
	logger := xglog.WithContext(ctx, g.logger)
	ev := logger.Info().
		Str(xglog.FieldEvent, "token.issued").
		Int64(xglog.FieldTokenID, created.ID).
		Int("ttl_minutes", ttl).
		Time("expires_at", created.ExpiresAt)
	if created.VideoID != nil {
		ev = ev.Int64(xglog.FieldVideoID, *created.VideoID)
	}
	if created.UserID != nil {
		ev = ev.Int64(xglog.FieldUserID, *created.UserID)
	}
	ev.Msg("access token issued")
	return created, nil
}

// Validate reports whether token could be consumed now. It never mutates.
func (g *Gate) Validate(ctx context.Context, token string) (store.Token, error) {
	t, err := g.lookup(ctx, token)
	outcome := "ok"
	if err != nil {
		outcome = rejection(err)
	}
	metrics.IncTokenEvent("validate", outcome)
	return t, err
}

func (g *Gate) lookup(ctx context.Context, token string) (store.Token, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.Token{}, ErrTokenInvalid
	}
	t, err := g.tokens.GetToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return store.Token{}, ErrTokenInvalid
	}
	if err != nil {
		return store.Token{}, fmt.Errorf("load token: %w", err)
	}
	if t.Used {
		return t, ErrTokenUsed
	}
	if g.clock.Now().After(t.ExpiresAt) {
		return t, ErrTokenExpired
	}
	return t, nil
}

// Consume spends token. For video-scoped tokens the view is logged and
// counted together with the spend.
func (g *Gate) Consume(ctx context.Context, token, ip, userAgent string) (ConsumeResult, error) {
	t, err := g.lookup(ctx, token)
	if err != nil {
		metrics.IncTokenEvent("consume", rejection(err))
		return ConsumeResult{}, err
	}
	return g.spend(ctx, t, ip, userAgent)
}

// ConsumeForVideo is Consume restricted to tokens bound to videoID. Tokens
// scoped elsewhere are rejected with ErrTokenScope and stay unused.
func (g *Gate) ConsumeForVideo(ctx context.Context, token string, videoID int64, ip, userAgent string) (ConsumeResult, error) {
	t, err := g.lookup(ctx, token)
	if err != nil {
		metrics.IncTokenEvent("consume", rejection(err))
		return ConsumeResult{}, err
	}
	if t.VideoID == nil || *t.VideoID != videoID {
		metrics.IncTokenEvent("consume", "scope")
		return ConsumeResult{}, ErrTokenScope
	}
	return g.spend(ctx, t, ip, userAgent)
}

func (g *Gate) spend(ctx context.Context, t store.Token, ip, userAgent string) (ConsumeResult, error) {
	logger := xglog.WithContext(ctx, g.logger).With().Int64(xglog.FieldTokenID, t.ID).Logger()

	if t.VideoID != nil {
		if _, err := g.videos.GetVideo(ctx, *t.VideoID); err != nil {
			metrics.IncTokenEvent("consume", "rejected")
			return ConsumeResult{}, err
		}
	}

	var view *store.AccessLog
	if t.VideoID != nil {
		view = &store.AccessLog{
			UserID:     t.UserID,
			VideoID:    *t.VideoID,
			IPAddress:  ip,
			UserAgent:  userAgent,
			AccessedAt: g.clock.Now(),
		}
	}

	won, stats, err := g.spender.SpendToken(ctx, t.Token, view)
	switch {
	case errors.Is(err, store.ErrNotFound) && view != nil:
		// The video went away between the check above and the spend.
		metrics.IncTokenEvent("consume", "rejected")
		return ConsumeResult{}, err
	case errors.Is(err, store.ErrNotFound):
		metrics.IncTokenEvent("consume", "invalid")
		return ConsumeResult{}, ErrTokenInvalid
	case err != nil:
		metrics.IncTokenEvent("consume", "error")
		logger.Error().Err(err).Str(xglog.FieldEvent, "token.spend_failed").Msg("token not spent")
		return ConsumeResult{}, fmt.Errorf("spend token: %w", err)
	case !won:
		metrics.IncTokenEvent("consume", "used")
		return ConsumeResult{}, ErrTokenUsed
	}
	t.Used = true
	res := ConsumeResult{Token: t}
	if view != nil {
		res.Stats = &stats
		metrics.Views.Inc()
	}

	metrics.IncTokenEvent("consume", "ok")
	ev := logger.Info().Str(xglog.FieldEvent, "token.consumed").Str("ip", ip)
	if t.VideoID != nil {
		ev = ev.Int64(xglog.FieldVideoID, *t.VideoID)
	}
	ev.Msg("access token consumed")
	return res, nil
}

// TokenCounts aggregates token states as of now.
func (g *Gate) TokenCounts(ctx context.Context) (store.TokenCounts, error) {
	return g.tokens.TokenCounts(ctx, g.clock.Now())
}

func rejection(err error) string {
	switch {
	case errors.Is(err, ErrTokenUsed):
		return "used"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}
