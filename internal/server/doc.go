// Package server provides the HTTP surface of a running workpump pipeline.
//
// Routes:
//
//   - GET /: embedded dashboard HTML
//   - POST /api/items: insert a new pending item (the external writer path)
//   - GET /api/items/{id}: current durable state of one item
//   - GET /api/stats: item counts per state, pending count and queue depth
//   - GET /api/events: Server-Sent Events stream of item snapshots
//   - GET /healthz: store reachability
//   - GET /metrics: Prometheus exposition
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
