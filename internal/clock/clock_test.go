// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMock(start)
	assert.Equal(t, start, m.Now())

	m.Advance(61 * time.Minute)
	assert.Equal(t, start.Add(61*time.Minute), m.Now())

	m.Set(start)
	assert.Equal(t, start, m.Now())
}

func TestRealIsMonotonicEnough(t *testing.T) {
	var c Clock = Real{}
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
