package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/telemlink/internal/protocol/session"
	"github.com/danmuck/telemlink/internal/testutil/testlog"
	"github.com/danmuck/telemlink/internal/testutil/tlstest"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.HandshakeTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PingTimeout = 100 * time.Millisecond
	cfg.CloseTimeout = 500 * time.Millisecond
	return cfg
}

func TestWebSocketSendAndDownlink(t *testing.T) {
	testlog.Start(t)
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(mt, append([]byte("ack:"), data...))
		}
	}))
	defer srv.Close()

	d, err := NewWebSocketDialer(testSessionConfig())
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	inbound := make(chan []byte, 1)
	conn, err := d.Dial(context.Background(), wsURL(srv)+"/veh-1", func(p []byte) { inbound <- p })
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if got := <-paths; got != "/veh-1" {
		t.Fatalf("unexpected path: %s", got)
	}

	if err := conn.Send(context.Background(), []byte{0x02, 0x00}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-inbound:
		if string(got) != "ack:\x02\x00" {
			t.Fatalf("unexpected downlink: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no downlink message")
	}

	// Keep-alive: the server answers pings while reading, so the connection
	// must outlive several ping timeouts.
	time.Sleep(400 * time.Millisecond)
	if conn.Err() != nil {
		t.Fatalf("connection dropped despite pongs: %v", conn.Err())
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-conn.Done()
	if !errors.Is(conn.Err(), ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", conn.Err())
	}
	if err := conn.Send(context.Background(), []byte{1}); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("send after close: %v", err)
	}
}

func TestWebSocketPingTimeout(t *testing.T) {
	testlog.Start(t)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release // never reads, so pings go unanswered
	}))
	defer srv.Close()
	defer close(release)

	d, err := NewWebSocketDialer(testSessionConfig())
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	conn, err := d.Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("missed pongs did not end the connection")
	}
	if !errors.Is(conn.Err(), ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", conn.Err())
	}
}

func TestWebSocketCloseOutlastsPings(t *testing.T) {
	testlog.Start(t)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release // never answers the close frame
	}))
	defer srv.Close()
	defer close(release)

	d, err := NewWebSocketDialer(testSessionConfig())
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	conn, err := d.Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// Close waits out several ping intervals for a reply that never comes.
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-conn.Done()
	if !errors.Is(conn.Err(), ErrConnClosed) {
		t.Fatalf("local close reported as %v", conn.Err())
	}
}

func TestWebSocketPeerCloseEndsConnection(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		_ = conn.Close()
	}))
	defer srv.Close()

	d, _ := NewWebSocketDialer(testSessionConfig())
	conn, err := d.Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("peer close not observed")
	}
	if err := conn.Send(context.Background(), []byte{1}); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	d, _ := NewWebSocketDialer(testSessionConfig())
	if _, err := d.Dial(context.Background(), wsURL(srv), nil); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestWebSocketDialTLSWithCAFile(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "telemlink-test-ca")
	got := make(chan []byte, 1)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err == nil {
			got <- data
		}
	}))
	srv.TLS = ca.ServerTLS(t)
	srv.StartTLS()
	defer srv.Close()
	url := wsURL(srv)
	if !strings.HasPrefix(url, "wss://") {
		t.Fatalf("expected wss url, got %q", url)
	}

	untrusted, err := NewWebSocketDialer(testSessionConfig())
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	if _, err := untrusted.Dial(context.Background(), url, nil); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected unknown authority to fail, got %v", err)
	}

	cfg := testSessionConfig()
	cfg.TLS.CAFile = ca.CAFile()
	trusted, err := NewWebSocketDialer(cfg)
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	conn, err := trusted.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial with ca file: %v", err)
	}
	defer conn.Close()
	if err := conn.Send(context.Background(), []byte{0x02, 0x01}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case data := <-got:
		if string(data) != string([]byte{0x02, 0x01}) {
			t.Fatalf("unexpected payload %x", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server received nothing over wss")
	}
}
