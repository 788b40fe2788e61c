// Package api implements the operator-facing HTTP server for the Gray Logic registry.
//
// This package provides:
//   - GET /api/v1/health: component health checks and a device liveness summary
//   - GET /metrics: Prometheus exposition of the registry's counters
//   - Middleware stack (request ID, logging, recovery, request counting)
//
// The registry operations themselves (issue, promote, ask, answer...) are not
// exposed here. Callers reach them through the registry.Hub in-process; this
// server only reports on the running daemon.
//
// # Graceful Degradation
//
// Optional collaborators (MQTT, InfluxDB) are registered as named health
// checks. A failing check reports "degraded" with HTTP 503 but the server
// keeps serving.
package api
