// Package transport adapts serial ports, multicast UDP sockets and WebSocket
// connections to a common callback shape.
//
// Ownership boundary:
// - the Handler callback contract
// - per-adapter write gates driven by backpressure
// - the shared Termination signal resolved on transport loss
package transport
