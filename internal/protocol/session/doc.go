// Package session owns relay connection policy shared by the WebSocket
// transport and the connection registry.
//
// Ownership boundary:
// - keep-alive and timeout defaults for relay connections
// - reconnect backoff
// - the single-slot pending frame used for per-source ordering
// - client transport security (wss trust configuration)
package session
