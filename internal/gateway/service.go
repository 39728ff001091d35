// Package gateway runs the ground-side relay: assembled frames received on
// the uplink multicast group are downsampled and forwarded to a WebSocket
// endpoint per source. Binary messages sent back by an endpoint are
// published on the downlink group.
package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/telemlink/internal/config"
	"github.com/danmuck/telemlink/internal/observability"
	"github.com/danmuck/telemlink/internal/pipeline"
	"github.com/danmuck/telemlink/internal/protocol"
	"github.com/danmuck/telemlink/internal/relay"
	"github.com/danmuck/telemlink/internal/services"
	"github.com/danmuck/telemlink/internal/transport"
	"github.com/rs/zerolog/log"
)

type ServiceConfig struct {
	config.Config
	// Dialer replaces the WebSocket dialer.
	Dialer relay.Dialer
}

// DefaultServiceConfig joins the uplink group 224.3.39.31 and publishes
// downlink traffic to 224.3.39.32.
func DefaultServiceConfig() ServiceConfig {
	cfg := config.Default()
	cfg.Node = "wsrelay"
	cfg.Multicast.Groups = []string{"224.3.39.31"}
	cfg.Multicast.SendAddr = "224.3.39.32:3931"
	return ServiceConfig{Config: cfg}
}

// Stats is a point-in-time copy of the gateway counters.
type Stats struct {
	Datagrams     uint64 `json:"datagrams"`
	Forwarded     uint64 `json:"forwarded"`
	Delivered     uint64 `json:"delivered"`
	NotDelivered  uint64 `json:"not_delivered"`
	DownlinkIn    uint64 `json:"downlink_in"`
	DownlinkGated uint64 `json:"downlink_gated"`
}

type Service struct {
	cfg  ServiceConfig
	term *transport.Termination
	set  *services.ServiceRegistry

	ingest   *pipeline.NetworkIngest
	mcast    *transport.MulticastAdapter
	registry *relay.Registry
	status   *observability.StatusServer

	mcastUp       atomic.Bool
	datagrams     atomic.Uint64
	forwarded     atomic.Uint64
	delivered     atomic.Uint64
	notDelivered  atomic.Uint64
	downlinkIn    atomic.Uint64
	downlinkGated atomic.Uint64
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{cfg: cfg, term: transport.NewTermination(), set: services.NewServiceRegistry()}
}

// Run blocks until SIGINT/SIGTERM or the socket is lost.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.cfg.ValidateMulticast(); err != nil {
		return err
	}
	if err := s.cfg.ValidateRelay(); err != nil {
		return err
	}

	dialer := s.cfg.Dialer
	if dialer == nil {
		ws, err := transport.NewWebSocketDialer(s.cfg.Relay.Session)
		if err != nil {
			return err
		}
		dialer = relay.WebSocket(ws, s.onDownlink)
	}
	s.registry = relay.NewRegistry(s.cfg.Relay, dialer)
	s.ingest = pipeline.NewNetworkIngest(pipeline.NetworkIngestConfig{
		BucketDivisor:  s.cfg.Pipeline.BucketDivisor,
		DropInvalidCRC: s.cfg.Pipeline.DropInvalidCRC,
	}, s.forward)

	s.mcast = transport.NewMulticastAdapter(s.cfg.Multicast, transport.Callbacks{
		Connect: func() { s.mcastUp.Store(true) },
		Data: func(p []byte) {
			s.datagrams.Add(1)
			s.ingest.Handle(p)
		},
		Close: func(error) { s.mcastUp.Store(false) },
	}, s.term)
	if err := s.set.Register(services.Func{ServiceName: "multicast", Fn: s.mcast.Run}); err != nil {
		return err
	}
	if strings.TrimSpace(s.cfg.Status.ListenAddr) != "" {
		s.status = observability.NewStatusServer(s.cfg.Node, s.cfg.Status, s.Ready, s.Snapshot)
		if err := s.set.Register(services.Func{ServiceName: "status", Fn: s.status.Serve}); err != nil {
			return err
		}
	}
	if err := s.set.Register(services.Func{ServiceName: "heartbeat", Fn: s.heartbeat}); err != nil {
		return err
	}

	log.Info().
		Str("node", s.cfg.Node).
		Strs("groups", s.cfg.Multicast.Groups).
		Str("downlink", s.cfg.Multicast.SendAddr).
		Str("base_uri", s.cfg.Relay.BaseURI).
		Msg("gateway.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.term.Done():
			cancel()
		}
	}()

	err := s.set.RunAll(ctx)
	_ = s.registry.Close()
	if err == nil {
		err = s.term.Err()
	}
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	log.Info().Str("node", s.cfg.Node).Msg("gateway.Service.serve shutdown")
	return nil
}

// forward hands a frame that survived downsampling to the registry. The
// outcome is only counted; the registry logs failures itself.
func (s *Service) forward(f protocol.Frame) {
	s.forwarded.Add(1)
	done := s.registry.Submit(f)
	go func() {
		if err := <-done; err != nil {
			s.notDelivered.Add(1)
			return
		}
		s.delivered.Add(1)
	}()
}

func (s *Service) onDownlink(source string, p []byte) {
	s.downlinkIn.Add(1)
	if s.mcast == nil || !s.mcast.MayWrite() {
		s.downlinkGated.Add(1)
		return
	}
	if err := s.mcast.Write(p); err != nil {
		s.downlinkGated.Add(1)
		log.Debug().Err(err).Str("source", source).Msg("gateway.Service.onDownlink multicast write skipped")
	}
}

func (s *Service) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := s.Stats()
			log.Info().
				Str("node", s.cfg.Node).
				Bool("multicast_up", s.mcastUp.Load()).
				Uint64("datagrams", st.Datagrams).
				Uint64("forwarded", st.Forwarded).
				Uint64("delivered", st.Delivered).
				Int("sources", len(s.registry.Snapshot())).
				Int("size_buckets", s.ingest.Downsampler().Buckets()).
				Msg("gateway.Service.heartbeat")
		}
	}
}

func (s *Service) Ready() bool {
	return s.mcastUp.Load()
}

func (s *Service) Stats() Stats {
	return Stats{
		Datagrams:     s.datagrams.Load(),
		Forwarded:     s.forwarded.Load(),
		Delivered:     s.delivered.Load(),
		NotDelivered:  s.notDelivered.Load(),
		DownlinkIn:    s.downlinkIn.Load(),
		DownlinkGated: s.downlinkGated.Load(),
	}
}

// Snapshot is served at /sources by the status server.
func (s *Service) Snapshot() any {
	return struct {
		Services []services.Status    `json:"services"`
		Sources  []relay.SourceStatus `json:"sources"`
		Stats    Stats                `json:"stats"`
	}{
		Services: s.set.Status(),
		Sources:  s.registry.Snapshot(),
		Stats:    s.Stats(),
	}
}
