// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts external tools in their own process group so a
// timeout can reap the whole tree (ffmpeg may fork helpers).
package procgroup
