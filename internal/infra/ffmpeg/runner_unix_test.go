// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package ffmpeg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultExecutorCapturesOutput(t *testing.T) {
	e := NewExecutor(zerolog.Nop())
	out, err := e.Run(context.Background(), "sh", []string{"-c", "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestDefaultExecutorReportsStderrTail(t *testing.T) {
	e := NewExecutor(zerolog.Nop())
	_, err := e.Run(context.Background(), "sh", []string{"-c", "echo first >&2; echo boom >&2; exit 3"})
	require.Error(t, err)

	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "sh", perr.Tool)
	assert.Equal(t, []string{"first", "boom"}, perr.Stderr)
}

func TestDefaultExecutorKillsOnTimeout(t *testing.T) {
	e := &DefaultExecutor{Logger: zerolog.Nop(), WaitDelay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Run(ctx, "sh", []string{"-c", "sleep 30 & sleep 30"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}
