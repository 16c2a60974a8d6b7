// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package clock abstracts wall time so token expiry and timestamps can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic testing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Real uses system time.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Mock provides deterministic time control for testing.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock creates a mock clock starting at the given time.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set pins the mock clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
