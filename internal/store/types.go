// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import "time"

// ProcessingState is the persisted lifecycle position of a video asset.
type ProcessingState string

const (
	StateUploaded    ProcessingState = "uploaded"
	StateProbing     ProcessingState = "probing"
	StateReady       ProcessingState = "ready"
	StateTranscoding ProcessingState = "transcoding"
	StateProcessed   ProcessingState = "processed"
)

var stateOrder = []ProcessingState{StateUploaded, StateProbing, StateReady, StateTranscoding, StateProcessed}

func (s ProcessingState) rank() int {
	for i, st := range stateOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known state.
func (s ProcessingState) Valid() bool { return s.rank() >= 0 }

func (s ProcessingState) String() string { return string(s) }

// CanAdvance reports whether to is the immediate successor of from.
// States never move backwards and never skip.
func CanAdvance(from, to ProcessingState) bool {
	r := from.rank()
	return r >= 0 && r+1 < len(stateOrder) && stateOrder[r+1] == to
}

// Metadata is the probed description of a source file. It is written as a
// whole or not at all.
type Metadata struct {
	DurationSeconds int64
	Resolution      string
	Format          string
}

// Video is an uploaded asset.
type Video struct {
	ID               int64           `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Filename         string          `json:"filename"`
	OriginalFilename string          `json:"originalFilename"`
	FileSize         int64           `json:"fileSize"`
	ContentType      string          `json:"contentType,omitempty"`
	Duration         *int64          `json:"duration"`
	Resolution       *string         `json:"resolution"`
	Format           *string         `json:"format"`
	ThumbnailPath    *string         `json:"thumbnailPath"`
	State            ProcessingState `json:"processingState"`
	IsProcessed      bool            `json:"isProcessed"`
	OwnerID          int64           `json:"userId"`
	Tags             []string        `json:"tags"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func (v *Video) derive() {
	v.IsProcessed = v.State == StateProcessed
	if v.Tags == nil {
		v.Tags = []string{}
	}
}

func (v *Video) applyMetadata(m *Metadata) {
	if m == nil {
		v.Duration, v.Resolution, v.Format = nil, nil, nil
		return
	}
	d, r, f := m.DurationSeconds, m.Resolution, m.Format
	v.Duration, v.Resolution, v.Format = &d, &r, &f
}

// Details are the editable fields of a video. Nil fields are left as they are.
type Details struct {
	Title       *string
	Description *string
	Tags        *[]string
}

func (d Details) apply(v *Video) {
	if d.Title != nil {
		v.Title = *d.Title
	}
	if d.Description != nil {
		v.Description = *d.Description
	}
	if d.Tags != nil {
		v.Tags = append([]string{}, (*d.Tags)...)
	}
}

// Token is a single-use, time-bounded playback credential.
type Token struct {
	ID         int64     `json:"id"`
	Token      string    `json:"token"`
	UserID     *int64    `json:"userId"`
	VideoID    *int64    `json:"videoId"`
	PlaylistID *int64    `json:"playlistId"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Used       bool      `json:"used"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AccessLog records one successful first-use consumption of a video token.
type AccessLog struct {
	ID         int64     `json:"id"`
	UserID     *int64    `json:"userId"`
	VideoID    int64     `json:"videoId"`
	IPAddress  string    `json:"ipAddress"`
	UserAgent  string    `json:"userAgent"`
	AccessedAt time.Time `json:"accessedAt"`
}

// VideoStats is the per-video view counter.
type VideoStats struct {
	VideoID    int64      `json:"videoId"`
	ViewsCount int64      `json:"viewsCount"`
	LastViewed *time.Time `json:"lastViewed"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// VideoViews is a reporting row joining a counter with its video title.
type VideoViews struct {
	VideoID    int64      `json:"videoId"`
	Title      string     `json:"title"`
	Views      int64      `json:"views"`
	LastViewed *time.Time `json:"lastViewed"`
}

// TokenCounts aggregates token states at a point in time.
type TokenCounts struct {
	Total   int64 `json:"total"`
	Used    int64 `json:"used"`
	Expired int64 `json:"expired"`
	Active  int64 `json:"active"`
}

// AccessLogFilter narrows ListAccessLogs. Nil fields match everything.
type AccessLogFilter struct {
	VideoID *int64
	UserID  *int64
	Limit   int
}

func (f AccessLogFilter) match(e AccessLog) bool {
	if f.VideoID != nil && e.VideoID != *f.VideoID {
		return false
	}
	if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
		return false
	}
	return true
}
