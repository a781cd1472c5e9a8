// Package websocket provides real-time job event streaming via WebSocket.
//
// Clients connect to /api/v1/jobs/:id/ws to receive stage progress,
// retries, failures and status changes of one job as they happen.
package websocket
