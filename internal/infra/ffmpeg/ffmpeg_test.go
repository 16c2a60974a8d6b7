// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vodgate/internal/domain/media"
)

type call struct {
	name string
	args []string
}

// fakeExec records invocations and delegates to fn.
type fakeExec struct {
	mu    sync.Mutex
	calls []call
	fn    func(ctx context.Context, name string, args []string) ([]byte, error)
}

func (f *fakeExec) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: append([]string(nil), args...)})
	f.mu.Unlock()
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(ctx, name, args)
}

const sampleProbe = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac"},
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
    {"codec_type": "video", "codec_name": "mjpeg", "width": 320, "height": 240}
  ],
  "format": {"duration": "125.98", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParseProbeOutput(t *testing.T) {
	res, err := ParseProbeOutput([]byte(sampleProbe))
	require.NoError(t, err)
	want := ProbeResult{DurationSeconds: 125, Resolution: "1920x1080", Format: "mov,mp4,m4a,3gp,3g2,mj2"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("probe result mismatch (-want +got):\n%s", diff)
	}
}

func TestParseProbeOutputFailures(t *testing.T) {
	tests := map[string]string{
		"not json":       `ffprobe: garbage`,
		"no video":       `{"streams":[{"codec_type":"audio"}],"format":{"duration":"3.0","format_name":"mp3"}}`,
		"bad duration":   `{"streams":[{"codec_type":"video","width":1,"height":1}],"format":{"duration":"N/A","format_name":"mp4"}}`,
		"empty duration": `{"streams":[{"codec_type":"video","width":1,"height":1}],"format":{"format_name":"mp4"}}`,
		"no format name": `{"streams":[{"codec_type":"video","width":1,"height":1}],"format":{"duration":"1.5"}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProbeOutput([]byte(body))
			assert.ErrorIs(t, err, ErrProbe)
		})
	}
}

func TestProberRunsFFprobe(t *testing.T) {
	fx := &fakeExec{fn: func(ctx context.Context, name string, args []string) ([]byte, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "probe must run with a timeout")
		return []byte(sampleProbe), nil
	}}
	p := NewProber(fx, "/opt/ffprobe", time.Second, zerolog.Nop())

	res, err := p.Probe(context.Background(), "/media/videos/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(125), res.DurationSeconds)

	require.Len(t, fx.calls, 1)
	assert.Equal(t, "/opt/ffprobe", fx.calls[0].name)
	assert.Equal(t, []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", "/media/videos/a.mp4"}, fx.calls[0].args)
}

func TestProberWrapsProcessFailure(t *testing.T) {
	fx := &fakeExec{fn: func(context.Context, string, []string) ([]byte, error) {
		return nil, &ProcessError{Tool: "ffprobe", Err: errors.New("exit status 1"), Stderr: []string{"moov atom not found"}}
	}}
	_, err := NewProber(fx, "", 0, zerolog.Nop()).Probe(context.Background(), "x")
	require.ErrorIs(t, err, ErrProbe)
	assert.Equal(t, []string{"moov atom not found"}, StderrTail(err))
}

func TestBuildHLSArgs(t *testing.T) {
	args := BuildHLSArgs("/in/a.mp4", "/out/a", media.Target{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2500})
	want := []string{
		"-y", "-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", "/in/a.mp4",
		"-c:v", "libx264", "-c:a", "aac",
		"-b:v", "2500k", "-s", "1280x720",
		"-f", "hls", "-hls_time", "10", "-hls_list_size", "0",
		"-hls_segment_filename", "/out/a/720p_%03d.ts",
		"/out/a/720p.m3u8",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestTranscodeSuccessRequiresManifest(t *testing.T) {
	dir := t.TempDir()
	target := media.DefaultCatalog()[0]

	ok := &fakeExec{fn: func(context.Context, string, []string) ([]byte, error) {
		return nil, os.WriteFile(filepath.Join(dir, target.Name+".m3u8"), []byte("#EXTM3U\n"), 0o644)
	}}
	require.NoError(t, NewTranscoder(ok, "", zerolog.Nop()).Transcode(context.Background(), "in.mp4", dir, target))

	silent := &fakeExec{}
	other := media.DefaultCatalog()[1]
	err := NewTranscoder(silent, "", zerolog.Nop()).Transcode(context.Background(), "in.mp4", dir, other)
	assert.ErrorIs(t, err, ErrTranscode)
}

func TestTranscodeFailureRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	target := media.DefaultCatalog()[2]
	fx := &fakeExec{fn: func(context.Context, string, []string) ([]byte, error) {
		_ = os.WriteFile(filepath.Join(dir, "1080p.m3u8"), []byte("#EXTM3U\n"), 0o644)
		_ = os.WriteFile(filepath.Join(dir, "1080p_000.ts"), []byte("x"), 0o644)
		_ = os.WriteFile(filepath.Join(dir, "720p_000.ts"), []byte("x"), 0o644)
		return nil, &ProcessError{Tool: "ffmpeg", Err: context.DeadlineExceeded}
	}}

	err := NewTranscoder(fx, "", zerolog.Nop()).Transcode(context.Background(), "in.mp4", dir, target)
	require.ErrorIs(t, err, ErrTranscode)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NoFileExists(t, filepath.Join(dir, "1080p.m3u8"))
	assert.NoFileExists(t, filepath.Join(dir, "1080p_000.ts"))
	assert.FileExists(t, filepath.Join(dir, "720p_000.ts"), "siblings are untouched")
}

func TestThumbnailExtract(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "7.jpg")
	fx := &fakeExec{fn: func(_ context.Context, _ string, args []string) ([]byte, error) {
		return nil, os.WriteFile(args[len(args)-1], []byte{0xff, 0xd8, 0xff}, 0o644)
	}}

	require.NoError(t, NewThumbnailer(fx, "", time.Second, zerolog.Nop()).Extract(context.Background(), "in.mp4", out))
	assert.FileExists(t, out)
	assert.NoFileExists(t, filepath.Join(dir, "7.partial.jpg"))

	args := fx.calls[0].args
	assert.Contains(t, args, "00:00:01")
	assert.Equal(t, filepath.Join(dir, "7.partial.jpg"), args[len(args)-1])
}

func TestThumbnailExtractNoFrame(t *testing.T) {
	out := filepath.Join(t.TempDir(), "1.jpg")
	err := NewThumbnailer(&fakeExec{}, "", time.Second, zerolog.Nop()).Extract(context.Background(), "in.mp4", out)
	assert.ErrorIs(t, err, ErrThumbnail)
	assert.NoFileExists(t, out)
}

func TestRingBufferKeepsTail(t *testing.T) {
	r := NewRingBuffer(2)
	_, _ = r.Write([]byte("one\ntwo\nthr"))
	_, _ = r.Write([]byte("ee\nfour"))
	assert.Equal(t, []string{"two", "three", "four"}, r.GetAll())
}
