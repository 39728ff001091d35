// Package relay fans assembled frames out to one WebSocket connection per
// source identity.
//
// Each source has a tagged state (absent, connecting, connected) and one
// worker goroutine that owns its dial and its sends, so forwarded frames for
// a source leave in arrival order. Frames arriving while a connect is in
// progress are dropped; frames arriving faster than a connection drains
// replace each other in a single pending slot.
package relay
