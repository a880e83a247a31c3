// Package api hosts the HTTP server, middleware, and REST handlers for report
// requests. Notable routes:
//   - POST /v1/reports to request a report (429 when the class is rate limited);
//     GET /v1/reports to page through requests.
//   - GET /v1/reports/{id}/status and /v1/reports/{id}/download.
//   - GET /v1/artifacts/* to serve signed artifacts from the local backend.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
