// Package websocket streams run events to clients.
//
// A client connects to /api/v1/runs/:id/ws and receives:
//   - A run.snapshot message with the stored state
//   - Every run and node event published for that run
//
// The server closes the connection after the run's terminal event.
package websocket
