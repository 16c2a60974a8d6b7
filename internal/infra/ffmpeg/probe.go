// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrProbe marks every probe failure. Callers treat it as "no metadata".
var ErrProbe = errors.New("ffprobe failed")

const (
	// MaxConcurrentProbes bounds parallel ffprobe processes.
	MaxConcurrentProbes = 4
	// DefaultProbeTimeout applies when the prober is built without one.
	DefaultProbeTimeout = 30 * time.Second
)

// ProbeResult is the metadata extracted from a source file.
type ProbeResult struct {
	DurationSeconds int64
	Resolution      string // "WxH" of the first video stream
	Format          string // container format_name as reported
}

// Prober runs ffprobe against stored uploads.
type Prober struct {
	exec    Exec
	bin     string
	timeout time.Duration
	sem     *semaphore.Weighted
	logger  zerolog.Logger
}

// NewProber builds a prober. An empty bin means "ffprobe" from PATH.
func NewProber(exec Exec, bin string, timeout time.Duration, logger zerolog.Logger) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		exec:    exec,
		bin:     bin,
		timeout: timeout,
		sem:     semaphore.NewWeighted(MaxConcurrentProbes),
		logger:  logger,
	}
}

// ProbeArgs returns the ffprobe argument list for path.
func ProbeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
}

// Probe inspects path. Every failure wraps ErrProbe.
func (p *Prober) Probe(ctx context.Context, path string) (ProbeResult, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	out, err := p.exec.Run(ctx, p.bin, ProbeArgs(path))
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	res, err := ParseProbeOutput(out)
	if err != nil {
		return ProbeResult{}, err
	}
	p.logger.Debug().
		Str("path", path).
		Int64("duration_s", res.DurationSeconds).
		Str("resolution", res.Resolution).
		Str("format", res.Format).
		Dur("elapsed", time.Since(start)).
		Msg("probe complete")
	return res, nil
}

type probeData struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// ParseProbeOutput decodes ffprobe JSON. The first video stream provides the
// resolution and the container duration is floored to whole seconds.
func ParseProbeOutput(out []byte) (ProbeResult, error) {
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: decode json: %w", ErrProbe, err)
	}

	var res ProbeResult
	found := false
	for _, s := range data.Streams {
		if s.CodecType == "video" {
			res.Resolution = fmt.Sprintf("%dx%d", s.Width, s.Height)
			found = true
			break
		}
	}
	if !found {
		return ProbeResult{}, fmt.Errorf("%w: no video stream", ErrProbe)
	}

	d, err := strconv.ParseFloat(data.Format.Duration, 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return ProbeResult{}, fmt.Errorf("%w: invalid duration %q", ErrProbe, data.Format.Duration)
	}
	res.DurationSeconds = int64(math.Floor(d))

	if data.Format.FormatName == "" {
		return ProbeResult{}, fmt.Errorf("%w: empty format_name", ErrProbe)
	}
	res.Format = data.Format.FormatName
	return res, nil
}
