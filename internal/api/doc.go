// Package api hosts the optional operator HTTP surface of a crawl run:
//   - GET /healthz and /readyz for health checks (readyz pings storage).
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the run state and counters.
//   - GET /v1/hosts for per-host progress tallies.
//   - POST /v1/stop to request a stop under the configured drain policy.
package api
