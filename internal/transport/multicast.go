package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
)

// MulticastConfig configures one UDP endpoint. Inbound and outbound traffic
// use distinct groups so a process never receives its own datagrams.
type MulticastConfig struct {
	BindAddr string
	Port     int
	// InterfaceAddr selects the interface for group membership and sends,
	// by IP or name. Empty or 0.0.0.0 lets the kernel choose.
	InterfaceAddr string
	Groups        []string
	// SendAddr is the fixed peer (host:port) for Write.
	SendAddr        string
	Loopback        bool
	TTL             int
	ReadBufferBytes int
	Pump            PumpConfig
}

func DefaultMulticastConfig() MulticastConfig {
	return MulticastConfig{
		BindAddr:        "0.0.0.0",
		Port:            3931,
		InterfaceAddr:   "0.0.0.0",
		Groups:          []string{"224.3.39.32"},
		SendAddr:        "224.3.39.31:3931",
		Loopback:        true,
		TTL:             1,
		ReadBufferBytes: 65536,
		Pump:            DefaultPumpConfig(),
	}
}

// MulticastAdapter owns one bound UDP socket.
type MulticastAdapter struct {
	cfg     MulticastConfig
	handler Handler
	term    *Termination
	gate    Gate
	ready   chan struct{}

	mu    sync.Mutex
	conn  net.PacketConn
	pump  *writePump
	local net.Addr
}

func NewMulticastAdapter(cfg MulticastConfig, handler Handler, term *Termination) *MulticastAdapter {
	if handler == nil {
		handler = Callbacks{}
	}
	if term == nil {
		term = NewTermination()
	}
	if cfg.ReadBufferBytes <= 0 {
		cfg.ReadBufferBytes = DefaultMulticastConfig().ReadBufferBytes
	}
	return &MulticastAdapter{cfg: cfg, handler: handler, term: term, ready: make(chan struct{})}
}

// Ready is closed once the socket is bound and groups are joined.
func (a *MulticastAdapter) Ready() <-chan struct{} {
	return a.ready
}

// LocalAddr returns the bound address, or nil before Ready.
func (a *MulticastAdapter) LocalAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local
}

func (a *MulticastAdapter) listen(ctx context.Context) (net.PacketConn, *net.UDPAddr, error) {
	var dest *net.UDPAddr
	if a.cfg.SendAddr != "" {
		addr, err := net.ResolveUDPAddr("udp4", a.cfg.SendAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: send %q: %v", ErrInvalidAddr, a.cfg.SendAddr, err)
		}
		dest = addr
	}
	ifi, err := resolveInterface(a.cfg.InterfaceAddr)
	if err != nil {
		return nil, nil, err
	}

	lc := net.ListenConfig{Control: reuseControl}
	bind := net.JoinHostPort(a.cfg.BindAddr, strconv.Itoa(a.cfg.Port))
	conn, err := lc.ListenPacket(ctx, "udp4", bind)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bind %s: %v", ErrOpen, bind, err)
	}

	pc := ipv4.NewPacketConn(conn)
	for _, group := range a.cfg.Groups {
		ip := net.ParseIP(group)
		if ip == nil || !ip.IsMulticast() {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("%w: group %q", ErrInvalidAddr, group)
		}
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: ip}); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("%w: join %s: %v", ErrOpen, group, err)
		}
	}
	if dest != nil && dest.IP.IsMulticast() {
		if ifi != nil {
			if err := pc.SetMulticastInterface(ifi); err != nil {
				log.Warn().Err(err).Str("iface", ifi.Name).Msg("transport.MulticastAdapter.listen set interface failed")
			}
		}
		if err := pc.SetMulticastLoopback(a.cfg.Loopback); err != nil {
			log.Warn().Err(err).Msg("transport.MulticastAdapter.listen set loopback failed")
		}
		if a.cfg.TTL > 0 {
			if err := pc.SetMulticastTTL(a.cfg.TTL); err != nil {
				log.Warn().Err(err).Msg("transport.MulticastAdapter.listen set ttl failed")
			}
		}
	}
	return conn, dest, nil
}

// Run binds the socket and blocks until ctx ends or the socket fails. A
// socket error resolves the Termination and is returned.
func (a *MulticastAdapter) Run(ctx context.Context) error {
	conn, dest, err := a.listen(ctx)
	if err != nil {
		log.Error().Err(err).Msg("transport.MulticastAdapter.Run listen failed")
		a.term.Resolve(err)
		a.handler.OnClose(err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pump *writePump
	if dest != nil {
		pump = newWritePump("multicast", a.cfg.Pump, &a.gate, func(b []byte) error {
			_, err := conn.WriteTo(b, dest)
			return err
		}, a.handler.OnBackpressure)
	}
	a.mu.Lock()
	a.conn = conn
	a.pump = pump
	a.local = conn.LocalAddr()
	a.mu.Unlock()

	log.Info().
		Str("bind", conn.LocalAddr().String()).
		Strs("groups", a.cfg.Groups).
		Str("send", a.cfg.SendAddr).
		Msg("transport.MulticastAdapter.Run connected")
	a.handler.OnConnect()
	close(a.ready)

	g, gctx := errgroup.WithContext(runCtx)
	if pump != nil {
		g.Go(func() error {
			return pump.run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		return a.readLoop(gctx, conn)
	})
	err = g.Wait()

	a.mu.Lock()
	a.conn = nil
	a.pump = nil
	a.mu.Unlock()

	if ctx.Err() != nil {
		a.handler.OnClose(nil)
		a.term.Resolve(nil)
		return nil
	}
	if err == nil {
		err = fmt.Errorf("%w: udp %s", ErrDisconnected, a.cfg.BindAddr)
	}
	log.Error().Err(err).Msg("transport.MulticastAdapter.Run connection lost")
	a.handler.OnClose(err)
	a.term.Resolve(err)
	return err
}

func (a *MulticastAdapter) readLoop(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, a.cfg.ReadBufferBytes)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: udp read: %v", ErrDisconnected, err)
		}
		if n > 0 {
			a.handler.OnData(buf[:n])
		}
	}
}

// Write sends p as one datagram to the configured peer.
func (a *MulticastAdapter) Write(p []byte) error {
	a.mu.Lock()
	pump := a.pump
	a.mu.Unlock()
	if pump == nil {
		return ErrNotConnected
	}
	return pump.enqueue(p)
}

func (a *MulticastAdapter) MayWrite() bool {
	return a.gate.MayWrite()
}

func resolveInterface(spec string) (*net.Interface, error) {
	if spec == "" || spec == "0.0.0.0" {
		return nil, nil
	}
	if ifi, err := net.InterfaceByName(spec); err == nil {
		return ifi, nil
	}
	ip := net.ParseIP(spec)
	if ip == nil {
		return nil, fmt.Errorf("%w: interface %q", ErrInvalidAddr, spec)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: list interfaces: %v", ErrInvalidAddr, err)
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no interface with address %s", ErrInvalidAddr, spec)
}
