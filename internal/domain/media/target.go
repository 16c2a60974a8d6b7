// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media holds the rendition catalog and the on-disk layout shared by
// ingestion, transcoding and stream resolution.
package media

import (
	"errors"
	"fmt"
	"regexp"
)

// Target describes one rendition produced for every uploaded asset.
type Target struct {
	Name             string `yaml:"name"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	VideoBitrateKbps int    `yaml:"video_bitrate_kbps"`
}

// Resolution renders the target size as "WxH" for the encoder.
func (t Target) Resolution() string {
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

// Bitrate renders the target bitrate as "<n>k" for the encoder.
func (t Target) Bitrate() string {
	return fmt.Sprintf("%dk", t.VideoBitrateKbps)
}

var renditionName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,31}$`)

// ValidRenditionName reports whether name is usable as a manifest base name.
func ValidRenditionName(name string) bool {
	return renditionName.MatchString(name)
}

// DefaultCatalog returns the built-in ordered rendition catalog.
func DefaultCatalog() []Target {
	return []Target{
		{Name: "480p", Width: 854, Height: 480, VideoBitrateKbps: 1000},
		{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2500},
		{Name: "1080p", Width: 1920, Height: 1080, VideoBitrateKbps: 5000},
	}
}

// ValidateCatalog checks names, dimensions and uniqueness of a catalog.
func ValidateCatalog(targets []Target) error {
	if len(targets) == 0 {
		return errors.New("rendition catalog is empty")
	}
	var errs []error
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		if !ValidRenditionName(t.Name) {
			errs = append(errs, fmt.Errorf("target[%d]: invalid name %q", i, t.Name))
		}
		if _, dup := seen[t.Name]; dup {
			errs = append(errs, fmt.Errorf("target[%d]: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = struct{}{}
		if t.Width <= 0 || t.Height <= 0 {
			errs = append(errs, fmt.Errorf("target[%d]: width and height must be positive", i))
		}
		if t.VideoBitrateKbps <= 0 {
			errs = append(errs, fmt.Errorf("target[%d]: video_bitrate_kbps must be positive", i))
		}
	}
	return errors.Join(errs...)
}
