// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	sourceDirName     = "videos"
	transcodedDirName = "transcoded"
	thumbnailDirName  = "thumbnails"
	databaseFileName  = "vodgate.db"

	// ManifestExt is the extension of rendition playlists.
	ManifestExt = ".m3u8"
	// SegmentExt is the extension of rendition media segments.
	SegmentExt = ".ts"
)

var segmentName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,31}_[0-9]{3,}\.ts$`)

// ValidSegmentName reports whether name looks like a segment emitted by the
// transcoder ("<rendition>_NNN.ts").
func ValidSegmentName(name string) bool {
	return segmentName.MatchString(name)
}

// Layout resolves every persisted path below a single media root.
type Layout struct {
	Root string
}

// NewLayout returns a layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// EnsureDirs creates the source, transcoded and thumbnail directories.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.SourceDir(), l.TranscodedDir(), l.ThumbnailDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (l Layout) SourceDir() string     { return filepath.Join(l.Root, sourceDirName) }
func (l Layout) TranscodedDir() string { return filepath.Join(l.Root, transcodedDirName) }
func (l Layout) ThumbnailDir() string  { return filepath.Join(l.Root, thumbnailDirName) }

// DatabasePath is the default sqlite location.
func (l Layout) DatabasePath() string { return filepath.Join(l.Root, databaseFileName) }

// SourcePath is where the uploaded original is stored.
func (l Layout) SourcePath(stored string) string {
	return filepath.Join(l.SourceDir(), stored)
}

// RenditionDir is the per-asset output directory, keyed by the stored
// filename without its extension.
func (l Layout) RenditionDir(stored string) string {
	return filepath.Join(l.TranscodedDir(), BaseName(stored))
}

// ManifestPath is the playlist of one rendition.
func (l Layout) ManifestPath(stored, rendition string) string {
	return filepath.Join(l.RenditionDir(stored), rendition+ManifestExt)
}

// SegmentPattern is the ffmpeg segment filename template of one rendition.
func (l Layout) SegmentPattern(stored, rendition string) string {
	return filepath.Join(l.RenditionDir(stored), rendition+"_%03d"+SegmentExt)
}

// ThumbnailPath is the cached poster frame of an asset.
func (l Layout) ThumbnailPath(id int64) string {
	return filepath.Join(l.ThumbnailDir(), strconv.FormatInt(id, 10)+".jpg")
}

// BaseName strips directories and the final extension from a stored filename.
func BaseName(stored string) string {
	name := filepath.Base(stored)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// StoredFilename builds the on-disk name for an upload: the upload time in
// unix milliseconds, a dash and the sanitized original name.
func StoredFilename(now time.Time, original string) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + SanitizeFilename(original)
}

// SanitizeFilename reduces a client supplied name to a safe single path element.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}
