package transport

import "errors"

var (
	ErrPaused       = errors.New("transport: writes paused by backpressure")
	ErrNotConnected = errors.New("transport: not connected")
	ErrDisconnected = errors.New("transport: disconnected")
	ErrOpen         = errors.New("transport: open failed")
	ErrConnClosed   = errors.New("transport: connection closed")
	ErrInvalidAddr  = errors.New("transport: invalid address")
)
