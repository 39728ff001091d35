package relay

import (
	"context"
	"errors"

	"github.com/danmuck/telemlink/internal/protocol"
	"github.com/danmuck/telemlink/internal/protocol/session"
	"github.com/danmuck/telemlink/internal/transport"
)

var (
	ErrNoSource   = protocol.ErrNoSource
	ErrConnecting = errors.New("relay: connect in progress")
	ErrSuperseded = session.ErrSuperseded
	ErrClosed     = errors.New("relay: registry closed")
	ErrBackoff    = errors.New("relay: reconnect backoff active")
)

// State is the per-source connection lifecycle.
type State int

const (
	StateAbsent State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Conn is an established relay connection.
type Conn interface {
	Send(ctx context.Context, p []byte) error
	// Done is closed when the connection fails or is closed.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens the connection for source at endpoint.
type Dialer interface {
	Dial(ctx context.Context, source, endpoint string) (Conn, error)
}

type DialerFunc func(ctx context.Context, source, endpoint string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, source, endpoint string) (Conn, error) {
	return f(ctx, source, endpoint)
}

// Downlink receives binary messages sent back by a relay endpoint.
type Downlink func(source string, p []byte)

// WebSocket adapts a transport dialer to the registry. downlink may be nil.
func WebSocket(d *transport.WebSocketDialer, downlink Downlink) Dialer {
	return DialerFunc(func(ctx context.Context, source, endpoint string) (Conn, error) {
		var onMessage func([]byte)
		if downlink != nil {
			onMessage = func(p []byte) { downlink(source, p) }
		}
		conn, err := d.Dial(ctx, endpoint, onMessage)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}
