package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/telemlink/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketDialer opens relay connections with the keep-alive policy from
// session.Config.
type WebSocketDialer struct {
	cfg    session.Config
	dialer *websocket.Dialer
}

func NewWebSocketDialer(cfg session.Config) (*WebSocketDialer, error) {
	tlsCfg, err := cfg.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	return &WebSocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  tlsCfg,
		},
	}, nil
}

// Dial connects to url. Binary messages received on the connection are
// passed to onMessage from the connection's read goroutine.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, onMessage func([]byte)) (*WebSocketConn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: %v (status %d)", ErrOpen, url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, url, err)
	}
	return newWebSocketConn(conn, d.cfg, onMessage), nil
}

// WebSocketConn is one client connection. Send is safe for concurrent use;
// the first failure (write error, missed pong, peer close) ends the
// connection and is reported by Err.
type WebSocketConn struct {
	conn      *websocket.Conn
	cfg       session.Config
	onMessage func([]byte)

	writeMu  sync.Mutex
	once     sync.Once
	err      error
	done     chan struct{}
	readDone chan struct{}
	closing  atomic.Bool
}

func newWebSocketConn(conn *websocket.Conn, cfg session.Config, onMessage func([]byte)) *WebSocketConn {
	c := &WebSocketConn{
		conn:      conn,
		cfg:       cfg,
		onMessage: onMessage,
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	if cfg.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.liveness()))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.liveness()))
		})
	}
	go c.readLoop()
	if cfg.PingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

func (c *WebSocketConn) liveness() time.Duration {
	return c.cfg.PingInterval + c.cfg.PingTimeout
}

func (c *WebSocketConn) readLoop() {
	defer close(c.readDone)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				c.finish(ErrConnClosed)
			} else {
				c.finish(fmt.Errorf("%w: read: %v", ErrDisconnected, err))
			}
			return
		}
		if c.cfg.PingInterval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.liveness()))
		}
		if mt == websocket.BinaryMessage && c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

func (c *WebSocketConn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.PingTimeout)
			if c.closing.Load() {
				return
			}
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// Close owns shutdown once the close frame is out.
				if c.closing.Load() {
					return
				}
				c.finish(fmt.Errorf("%w: ping: %v", ErrDisconnected, err))
				return
			}
		}
	}
}

// Send writes p as one binary message.
func (c *WebSocketConn) Send(ctx context.Context, p []byte) error {
	select {
	case <-c.done:
		return c.err
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := c.writeDeadline()
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		if c.closing.Load() {
			return ErrConnClosed
		}
		err = fmt.Errorf("%w: write: %v", ErrDisconnected, err)
		c.finish(err)
		return err
	}
	return nil
}

// Done is closed when the connection ends.
func (c *WebSocketConn) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while it is open.
func (c *WebSocketConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close performs the close handshake, waiting up to CloseTimeout for the
// peer to answer.
func (c *WebSocketConn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.closing.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, c.writeDeadline()); err == nil {
		timer := time.NewTimer(c.cfg.CloseTimeout)
		select {
		case <-c.readDone:
		case <-timer.C:
			log.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("transport.WebSocketConn.Close handshake timed out")
		}
		timer.Stop()
	}
	c.finish(ErrConnClosed)
	return nil
}

func (c *WebSocketConn) writeDeadline() time.Time {
	if c.cfg.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.cfg.WriteTimeout)
}

func (c *WebSocketConn) finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}
