// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldVideoID   = "video_id"
	FieldTokenID   = "token_id"
	FieldUserID    = "user_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldWorker    = "worker"

	// Media fields
	FieldRendition  = "rendition"
	FieldResolution = "resolution"
	FieldBitrate    = "bitrate_kbps"
	FieldDuration   = "duration_ms"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath         = "path"
	FieldManifestPath = "manifest_path"
)
