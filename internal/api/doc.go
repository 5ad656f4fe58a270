// Package api serves a read-only HTTP view of the session store. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sessions, optionally filtered with from/to (YYYY-MM-DD, inclusive).
//   - GET /v1/sessions/{date} for a single session.
package api
