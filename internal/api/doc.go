// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/monitors/{monitor_id}/scan to queue an on-demand scan.
//   - GET /v1/runs and /v1/runs/{run_id} for run history via the
//     RunRepository interface.
//   - POST /v1/reaper/sweep to clear stuck scans immediately.
package api
