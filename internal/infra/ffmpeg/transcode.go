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

	"github.com/rs/zerolog"

	"github.com/ManuGH/vodgate/internal/domain/media"
)

// ErrTranscode marks a failed rendition.
var ErrTranscode = errors.New("ffmpeg transcode failed")

// HLSSegmentSeconds is the target segment duration.
const HLSSegmentSeconds = 10

// Transcoder produces one HLS rendition per call.
type Transcoder struct {
	exec   Exec
	bin    string
	logger zerolog.Logger
}

// NewTranscoder builds a transcoder. An empty bin means "ffmpeg" from PATH.
func NewTranscoder(exec Exec, bin string, logger zerolog.Logger) *Transcoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Transcoder{exec: exec, bin: bin, logger: logger}
}

// BuildHLSArgs renders the ffmpeg arguments for one rendition: H.264/AAC at
// the target size and bitrate, 10 second segments, every segment kept in the
// playlist.
func BuildHLSArgs(input, outDir string, t media.Target) []string {
	return []string{
		"-y", "-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:v", t.Bitrate(),
		"-s", t.Resolution(),
		"-f", "hls",
		"-hls_time", fmt.Sprint(HLSSegmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outDir, t.Name+"_%03d"+media.SegmentExt),
		filepath.Join(outDir, t.Name+media.ManifestExt),
	}
}

// Transcode runs ffmpeg for target. ctx carries the per-rendition deadline.
// On failure the partial playlist and segments of this rendition are removed
// so the quality reads as unavailable.
func (tr *Transcoder) Transcode(ctx context.Context, input, outDir string, target media.Target) error {
	if _, err := tr.exec.Run(ctx, tr.bin, BuildHLSArgs(input, outDir, target)); err != nil {
		removeRendition(outDir, target.Name)
		return fmt.Errorf("%w: rendition %s: %w", ErrTranscode, target.Name, err)
	}
	if _, err := os.Stat(filepath.Join(outDir, target.Name+media.ManifestExt)); err != nil {
		removeRendition(outDir, target.Name)
		return fmt.Errorf("%w: rendition %s: manifest missing after exit: %w", ErrTranscode, target.Name, err)
	}
	return nil
}

func removeRendition(outDir, name string) {
	_ = os.Remove(filepath.Join(outDir, name+media.ManifestExt))
	segs, _ := filepath.Glob(filepath.Join(outDir, name+"_*"+media.SegmentExt))
	for _, s := range segs {
		_ = os.Remove(s)
	}
}
