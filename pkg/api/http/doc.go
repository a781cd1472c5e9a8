// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Deck submission and job listing
//   - Status and progress queries
//   - Reading, editing and regenerating slide narration
//   - Slide image previews and the final video
//   - Cancellation
//   - Health checks and Prometheus metrics
package http
