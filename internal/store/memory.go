// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/vodgate/internal/clock"
)

// MemoryStore keeps everything in process memory. It is used by tests and by
// the "memory" backend for throwaway deployments.
type MemoryStore struct {
	clk clock.Clock

	mu      sync.Mutex
	videos  map[int64]Video
	stats   map[int64]VideoStats
	logs    []AccessLog
	tokens  map[string]Token
	videoID int64
	logID   int64
	tokenID int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{
		clk:    clk,
		videos: make(map[int64]Video),
		stats:  make(map[int64]VideoStats),
		tokens: make(map[string]Token),
	}
}

func (m *MemoryStore) Close() error { return nil }

func cloneVideo(v Video) Video {
	if v.Tags != nil {
		v.Tags = append([]string(nil), v.Tags...)
	}
	v.derive()
	return v
}

func (m *MemoryStore) CreateVideo(_ context.Context, v Video) (Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	m.videoID++
	v.ID = m.videoID
	v.State = StateUploaded
	v.CreatedAt, v.UpdatedAt = now, now
	m.videos[v.ID] = cloneVideo(v)
	m.stats[v.ID] = VideoStats{VideoID: v.ID, CreatedAt: now, UpdatedAt: now}
	return cloneVideo(v), nil
}

func (m *MemoryStore) GetVideo(_ context.Context, id int64) (Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return Video{}, fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	return cloneVideo(v), nil
}

func (m *MemoryStore) ListVideos(_ context.Context) ([]Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Video, 0, len(m.videos))
	for _, v := range m.videos {
		out = append(out, cloneVideo(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListVideosByState(_ context.Context, state ProcessingState) ([]Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Video
	for _, v := range m.videos {
		if v.State == state {
			out = append(out, cloneVideo(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AdvanceState(_ context.Context, id int64, from, to ProcessingState) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	if v.State != from {
		return fmt.Errorf("video %d is %s, want %s: %w", id, v.State, from, ErrStateConflict)
	}
	v.State = to
	v.UpdatedAt = m.clk.Now()
	m.videos[id] = v
	return nil
}

func (m *MemoryStore) ApplyProbe(_ context.Context, id int64, meta *Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	if v.State != StateProbing {
		return fmt.Errorf("video %d is %s, want %s: %w", id, v.State, StateProbing, ErrStateConflict)
	}
	v.applyMetadata(meta)
	v.State = StateReady
	v.UpdatedAt = m.clk.Now()
	m.videos[id] = v
	return nil
}

func (m *MemoryStore) SetThumbnail(_ context.Context, id int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	v.ThumbnailPath = &path
	v.UpdatedAt = m.clk.Now()
	m.videos[id] = v
	return nil
}

func (m *MemoryStore) UpdateDetails(_ context.Context, id int64, d Details) (Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return Video{}, fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	d.apply(&v)
	v.UpdatedAt = m.clk.Now()
	m.videos[id] = v
	return cloneVideo(v), nil
}

func (m *MemoryStore) DeleteVideo(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[id]; !ok {
		return fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	delete(m.videos, id)
	delete(m.stats, id)
	kept := m.logs[:0]
	for _, e := range m.logs {
		if e.VideoID != id {
			kept = append(kept, e)
		}
	}
	m.logs = kept
	return nil
}

func (m *MemoryStore) GetStats(_ context.Context, videoID int64) (VideoStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[videoID]
	if !ok {
		return VideoStats{}, fmt.Errorf("stats for video %d: %w", videoID, ErrNotFound)
	}
	return s, nil
}

func (m *MemoryStore) RecordView(_ context.Context, entry AccessLog) (VideoStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordViewLocked(entry)
}

func (m *MemoryStore) recordViewLocked(entry AccessLog) (VideoStats, error) {
	s, ok := m.stats[entry.VideoID]
	if !ok {
		return VideoStats{}, fmt.Errorf("stats for video %d: %w", entry.VideoID, ErrNotFound)
	}
	m.logID++
	entry.ID = m.logID
	m.logs = append(m.logs, entry)

	at := entry.AccessedAt
	s.ViewsCount++
	s.LastViewed = &at
	s.UpdatedAt = at
	m.stats[entry.VideoID] = s
	return s, nil
}

func (m *MemoryStore) TotalViews(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, s := range m.stats {
		total += s.ViewsCount
	}
	return total, nil
}

func (m *MemoryStore) viewsLocked(keep func(VideoStats) bool) []VideoViews {
	var out []VideoViews
	for id, s := range m.stats {
		if !keep(s) {
			continue
		}
		out = append(out, VideoViews{
			VideoID:    id,
			Title:      m.videos[id].Title,
			Views:      s.ViewsCount,
			LastViewed: s.LastViewed,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].VideoID < out[j].VideoID
	})
	return out
}

func (m *MemoryStore) TopVideos(_ context.Context, limit int) ([]VideoViews, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.viewsLocked(func(VideoStats) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ViewsByPeriod(_ context.Context, start, end time.Time) ([]VideoViews, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewsLocked(func(s VideoStats) bool {
		return s.LastViewed != nil && !s.LastViewed.Before(start) && !s.LastViewed.After(end)
	}), nil
}

func (m *MemoryStore) CountVideos(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.videos)), nil
}

func (m *MemoryStore) ListAccessLogs(_ context.Context, filter AccessLogFilter) ([]AccessLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AccessLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		if filter.match(m.logs[i]) {
			out = append(out, m.logs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AccessedAt.After(out[j].AccessedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateToken(_ context.Context, t Token) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tokens[t.Token]; exists {
		return Token{}, ErrDuplicateToken
	}
	m.tokenID++
	t.ID = m.tokenID
	t.Used = false
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.clk.Now()
	}
	m.tokens[t.Token] = t
	return t, nil
}

func (m *MemoryStore) GetToken(_ context.Context, token string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return Token{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) MarkTokenUsed(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return false, ErrNotFound
	}
	if t.Used {
		return false, nil
	}
	t.Used = true
	m.tokens[token] = t
	return true, nil
}

func (m *MemoryStore) ReleaseToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return ErrNotFound
	}
	t.Used = false
	m.tokens[token] = t
	return nil
}

func (m *MemoryStore) SpendToken(_ context.Context, token string, view *AccessLog) (bool, VideoStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return false, VideoStats{}, ErrNotFound
	}
	if t.Used {
		return false, VideoStats{}, nil
	}
	var st VideoStats
	if view != nil {
		var err error
		if st, err = m.recordViewLocked(*view); err != nil {
			return false, VideoStats{}, err
		}
	}
	t.Used = true
	m.tokens[token] = t
	return true, st, nil
}

func (m *MemoryStore) TokenCounts(_ context.Context, now time.Time) (TokenCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c TokenCounts
	for _, t := range m.tokens {
		c.Total++
		expired := now.After(t.ExpiresAt)
		if t.Used {
			c.Used++
		}
		if expired {
			c.Expired++
		}
		if !t.Used && !expired {
			c.Active++
		}
	}
	return c, nil
}
