// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
)

// NewSpender returns tokens itself when it spends atomically and also holds
// stats. Otherwise the spend is undone with ReleaseToken when the view cannot
// be recorded.
func NewSpender(tokens TokenStore, stats StatsStore) TokenSpender {
	if sp, ok := tokens.(TokenSpender); ok && any(tokens) == any(stats) {
		return sp
	}
	return releasingSpender{tokens: tokens, stats: stats}
}

type releasingSpender struct {
	tokens TokenStore
	stats  StatsStore
}

func (s releasingSpender) SpendToken(ctx context.Context, token string, view *AccessLog) (bool, VideoStats, error) {
	won, err := s.tokens.MarkTokenUsed(ctx, token)
	if err != nil || !won || view == nil {
		return won, VideoStats{}, err
	}
	st, err := s.stats.RecordView(ctx, *view)
	if err == nil {
		return true, st, nil
	}
	if rerr := s.tokens.ReleaseToken(context.WithoutCancel(ctx), token); rerr != nil {
		return false, VideoStats{}, errors.Join(err, fmt.Errorf("release token: %w", rerr))
	}
	return false, VideoStats{}, err
}

// SpendToken is atomic when one backend holds both tokens and stats.
func (c *composite) SpendToken(ctx context.Context, token string, view *AccessLog) (bool, VideoStats, error) {
	return NewSpender(c.TokenStore, c.StatsStore).SpendToken(ctx, token, view)
}
