// Package api hosts the HTTP server, middleware and REST handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape to fetch a list of papers.
//   - GET /v1/batches, /v1/batches/{batch_id}, /v1/batches/{batch_id}/records
//     and /v1/batches/{batch_id}/records/{record_id}/attempts for progress.
package api
