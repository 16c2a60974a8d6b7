// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrThumbnail marks a failed frame extraction.
var ErrThumbnail = errors.New("ffmpeg thumbnail failed")

// ThumbnailOffset is the position of the extracted poster frame.
const ThumbnailOffset = "00:00:01"

// Thumbnailer extracts a single JPEG frame from a source file.
type Thumbnailer struct {
	exec    Exec
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewThumbnailer builds a thumbnailer. An empty bin means "ffmpeg" from PATH.
func NewThumbnailer(exec Exec, bin string, timeout time.Duration, logger zerolog.Logger) *Thumbnailer {
	if bin == "" {
		bin = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Thumbnailer{exec: exec, bin: bin, timeout: timeout, logger: logger}
}

// ThumbnailArgs returns the ffmpeg arguments writing one frame to output.
func ThumbnailArgs(input, output string) []string {
	return []string{
		"-y", "-nostdin", "-hide_banner", "-loglevel", "error",
		"-ss", ThumbnailOffset,
		"-i", input,
		"-vframes", "1",
		"-q:v", "2",
		output,
	}
}

// Extract writes the poster frame of input to output. The frame is rendered
// next to output and renamed into place so readers never see a partial file.
func (t *Thumbnailer) Extract(ctx context.Context, input, output string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ext := filepath.Ext(output)
	tmp := strings.TrimSuffix(output, ext) + ".partial" + ext
	defer func() { _ = os.Remove(tmp) }()

	if _, err := t.exec.Run(ctx, t.bin, ThumbnailArgs(input, tmp)); err != nil {
		return fmt.Errorf("%w: %w", ErrThumbnail, err)
	}
	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: no frame written", ErrThumbnail)
	}
	if err := os.Rename(tmp, output); err != nil {
		return fmt.Errorf("%w: %w", ErrThumbnail, err)
	}
	return nil
}
