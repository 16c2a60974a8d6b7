// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg wraps the ffprobe and ffmpeg command line tools.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/vodgate/internal/procgroup"
)

// Exec runs an external tool to completion and returns its stdout.
type Exec interface {
	Run(ctx context.Context, name string, args []string) ([]byte, error)
}

// ProcessError describes a failed tool invocation.
type ProcessError struct {
	Tool   string
	Err    error
	Stderr []string // last lines of stderr
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Tool, e.Err)
	if len(e.Stderr) > 0 {
		msg += " (stderr: " + strings.Join(e.Stderr, " | ") + ")"
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }

// DefaultExecutor runs tools as real child processes in their own process
// group. Cancellation of ctx kills the whole group.
type DefaultExecutor struct {
	Logger zerolog.Logger
	// WaitDelay bounds how long Run waits for output pipes after the group
	// was killed. Zero means 5s.
	WaitDelay time.Duration
	// StderrLines is the number of stderr lines kept for diagnostics. Zero means 20.
	StderrLines int
}

// NewExecutor returns a DefaultExecutor logging through logger.
func NewExecutor(logger zerolog.Logger) *DefaultExecutor {
	return &DefaultExecutor{Logger: logger}
}

func (e *DefaultExecutor) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	// #nosec G204 -- binaries come from operator config; arguments are built internally
	cmd := exec.CommandContext(ctx, name, args...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd, syscall.SIGKILL)
	}
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	lines := e.StderrLines
	if lines <= 0 {
		lines = 20
	}
	tail := NewRingBuffer(lines)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = tail

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		e.Logger.Debug().Str("tool", name).Dur("elapsed", time.Since(start)).Msg("process finished")
		return stdout.Bytes(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	perr := &ProcessError{Tool: name, Err: err, Stderr: tail.GetAll()}
	e.Logger.Debug().Str("tool", name).Dur("elapsed", time.Since(start)).Err(perr).Msg("process failed")
	return stdout.Bytes(), perr
}

// StderrTail extracts captured stderr lines from an error chain.
func StderrTail(err error) []string {
	var perr *ProcessError
	if errors.As(err, &perr) {
		return perr.Stderr
	}
	return nil
}

// RingBuffer keeps the last N complete lines written to it.
type RingBuffer struct {
	mu      sync.Mutex
	lines   []string
	pos     int
	full    bool
	partial []byte
}

// NewRingBuffer returns a buffer retaining size lines.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{lines: make([]string, size)}
}

// Write splits p into lines; an unterminated trailer is held until the next
// write or GetAll.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := append(r.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		r.addLocked(string(bytes.TrimRight(data[:i], "\r")))
		data = data[i+1:]
	}
	// Bound the partial line so a tool that never prints a newline cannot grow it.
	if len(data) > 4096 {
		data = data[len(data)-4096:]
	}
	r.partial = append([]byte(nil), data...)
	return len(p), nil
}

// Add appends a single line.
func (r *RingBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(line)
}

func (r *RingBuffer) addLocked(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

// GetAll returns retained lines oldest first, including a pending partial line.
func (r *RingBuffer) GetAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []string
	if !r.full {
		res = append(res, r.lines[:r.pos]...)
	} else {
		res = make([]string, 0, len(r.lines)+1)
		res = append(res, r.lines[r.pos:]...)
		res = append(res, r.lines[:r.pos]...)
	}
	if p := strings.TrimSpace(string(r.partial)); p != "" {
		res = append(res, p)
	}
	return res
}
