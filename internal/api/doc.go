// Package api hosts the operational HTTP surface of the comic tracker.
// Routes:
//   - GET /healthz and /readyz for probes; readyz pings the catalog.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/passes runs one scrape pass and returns its report.
//   - POST /v1/alerts/flush sends pending chapter alerts.
//   - POST /v1/mirror/repair rebuilds the mirror snapshot from the catalog.
package api
