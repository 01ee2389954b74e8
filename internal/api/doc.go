// Package api hosts the ops HTTP server: probes, the Prometheus scrape
// endpoint, and read-only views over run history and the file import
// ledger. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for pipeline run history.
//   - GET /v1/files for ledger rows filtered by status, category, or
//     legislature.
package api
