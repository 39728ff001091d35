package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/telemlink/internal/protocol"
	"github.com/danmuck/telemlink/internal/relay"
	"github.com/danmuck/telemlink/internal/testutil/testlog"
	"github.com/danmuck/telemlink/internal/transport"
)

// device is the far end of an in-memory serial link.
type device struct {
	conn net.Conn
	mu   sync.Mutex
	rx   []byte
	got  chan struct{}
}

func newDevice(conn net.Conn) *device {
	d := &device{conn: conn, got: make(chan struct{}, 64)}
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				d.mu.Lock()
				d.rx = append(d.rx, buf[:n]...)
				d.mu.Unlock()
				select {
				case d.got <- struct{}{}:
				default:
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return d
}

func (d *device) waitFor(t *testing.T, want []byte) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		d.mu.Lock()
		found := bytes.Contains(d.rx, want)
		d.mu.Unlock()
		if found {
			return
		}
		select {
		case <-d.got:
		case <-deadline:
			t.Fatalf("device never received %x", want)
		}
	}
}

func telemetry() []byte {
	out := []byte{0x00}
	out = protocol.SequenceMessage(1).AppendEncoded(out)
	out = protocol.SourceMessage("d03").AppendEncoded(out)
	out = protocol.SequenceMessage(2).AppendEncoded(out)
	return out
}

func testConfig(conn net.Conn) ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Serial.Device = "/dev/test"
	cfg.OpenPort = func(string, int) (io.ReadWriteCloser, error) { return conn, nil }
	cfg.Multicast.BindAddr = "127.0.0.1"
	cfg.Multicast.Port = 0
	cfg.Multicast.Groups = nil
	cfg.Heartbeat = 50 * time.Millisecond
	return cfg
}

func waitReady(t *testing.T, s *Service) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !s.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("service never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridgeSerialToMulticastAndBack(t *testing.T) {
	testlog.Start(t)
	ground, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ground.Close()

	local, remote := net.Pipe()
	dev := newDevice(remote)
	cfg := testConfig(local)
	cfg.Multicast.SendAddr = ground.LocalAddr().String()
	svc := NewServiceWithConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- svc.RunContext(ctx) }()
	waitReady(t, svc)
	dev.waitFor(t, []byte{0x00})

	if _, err := remote.Write(telemetry()); err != nil {
		t.Fatalf("device write: %v", err)
	}

	_ = ground.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := ground.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ground read: %v", err)
	}
	frame := protocol.Frame(buf[:n])
	source, err := frame.Source()
	if err != nil || source != "d03" {
		t.Fatalf("unexpected source %q err=%v", source, err)
	}
	var tags []protocol.Tag
	for msg := range frame.Messages() {
		if err := msg.Validate(); err != nil {
			t.Fatalf("invalid message in frame: %v", err)
		}
		tags = append(tags, msg.Tag())
	}
	want := []protocol.Tag{protocol.TagSequence, protocol.TagSourceID, protocol.TagTimeEpoch}
	if len(tags) != len(want) {
		t.Fatalf("unexpected tags %v", tags)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("unexpected tags %v", tags)
		}
	}
	testlog.Logf("bridge: uplink frame %d bytes tags=%v", n, tags)

	// Downlink: ground -> bridge socket -> serial, unmodified.
	cmd := []byte{0xAB, 0x01, 0x01}
	if _, err := ground.WriteTo(cmd, svc.mcast.LocalAddr()); err != nil {
		t.Fatalf("ground write: %v", err)
	}
	dev.waitFor(t, cmd)

	stats := svc.Stats()
	if stats.FramesOut != 1 || stats.DownlinkIn != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("service did not stop")
	}
}

func TestBridgeTerminatesOnSerialLoss(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	newDevice(remote)
	cfg := testConfig(local)
	cfg.Multicast.SendAddr = "127.0.0.1:9"
	svc := NewServiceWithConfig(cfg)

	runErr := make(chan error, 1)
	go func() { runErr <- svc.RunContext(context.Background()) }()
	waitReady(t, svc)

	_ = remote.Close()
	select {
	case err := <-runErr:
		if !errors.Is(err, transport.ErrDisconnected) {
			t.Fatalf("expected ErrDisconnected, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("service did not terminate after serial loss")
	}
	if svc.Ready() {
		t.Fatalf("service must not be ready after serial loss")
	}
}

type fakeConn struct {
	sent chan []byte
	done chan struct{}
	once sync.Once
}

func (c *fakeConn) Send(_ context.Context, p []byte) error {
	c.sent <- append([]byte(nil), p...)
	return nil
}
func (c *fakeConn) Done() <-chan struct{} { return c.done }
func (c *fakeConn) Err() error            { return nil }
func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func TestBridgeDirectRelay(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	dev := newDevice(remote)
	conn := &fakeConn{sent: make(chan []byte, 4), done: make(chan struct{})}
	endpoints := make(chan string, 1)

	cfg := testConfig(local)
	cfg.Multicast.SendAddr = ""
	cfg.Pipeline.DirectRelay = true
	cfg.Relay.BaseURI = "ws://relay.test/stream"
	cfg.Dialer = relay.DialerFunc(func(_ context.Context, source, endpoint string) (relay.Conn, error) {
		endpoints <- endpoint
		return conn, nil
	})
	svc := NewServiceWithConfig(cfg)
	if svc.multicastEnabled() {
		t.Fatalf("multicast must be disabled without groups or uplink")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- svc.RunContext(ctx) }()
	waitReady(t, svc)
	dev.waitFor(t, []byte{0x00})

	if _, err := remote.Write(telemetry()); err != nil {
		t.Fatalf("device write: %v", err)
	}
	select {
	case ep := <-endpoints:
		if ep != "ws://relay.test/stream/d03" {
			t.Fatalf("unexpected endpoint %q", ep)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay never dialed")
	}
	select {
	case p := <-conn.sent:
		if src, _ := protocol.SourceOf(p); src != "d03" {
			t.Fatalf("relayed frame carries source %q", src)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frame never relayed")
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("service did not stop")
	}
	select {
	case <-conn.done:
	default:
		t.Fatalf("relay connection must be closed on shutdown")
	}
}

func TestBridgeRequiresAnOutput(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.Multicast.Groups = nil
	cfg.Multicast.SendAddr = ""
	svc := NewServiceWithConfig(cfg)
	if err := svc.bootstrap(); !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}
