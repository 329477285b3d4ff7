// Package api hosts the status HTTP surface of a running archiver.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/threads for poll controller snapshots, optionally filtered
//     with ?state=.
//   - GET /v1/threads/lookup?url= for one thread's snapshot.
package api
