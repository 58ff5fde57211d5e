// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs submits a harvest job; DELETE /v1/jobs/{id} cancels one.
//   - GET /v1/jobs and /v1/jobs/{id} report job state from the job store.
//   - GET /v1/jobs/{id}/stats reports run and per-account progress via the
//     ProgressRepository interface.
package api
