// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Graph catalog listing
//   - Run submission, listing and cancellation
//   - Run status, results and step log queries
//   - Health checks
//   - Prometheus metrics
package http
