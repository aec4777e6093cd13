// Package dashboard provides the embedded web UI assets for workpump.
//
// The page shows per-state item counts from /api/stats and a live feed of
// item transitions from the /api/events stream. The embedded assets are
// served by the server package at the root path ("/").
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Main dashboard page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
