// Package bridge runs the flight-side serial bridge: telemetry read from the
// serial device is synchronized, validated and aggregated into frames that
// go out on the multicast uplink group and, in direct mode, straight to the
// relay. Datagrams on the downlink group are written to the device as-is.
package bridge

import (
	"context"
	"errors"
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
	"github.com/danmuck/telemlink/internal/protocol/frame"
	"github.com/danmuck/telemlink/internal/relay"
	"github.com/danmuck/telemlink/internal/services"
	"github.com/danmuck/telemlink/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrNoOutput = errors.New("bridge: neither multicast nor direct relay is enabled")

// ServiceConfig configures the serial bridge.
type ServiceConfig struct {
	config.Config
	// OpenPort defaults to transport.OpenSerialPort.
	OpenPort transport.PortOpener
	// Dialer replaces the WebSocket dialer used in direct relay mode.
	Dialer relay.Dialer
}

// DefaultServiceConfig listens for downlink on 224.3.39.32 and publishes
// frames to 224.3.39.31.
func DefaultServiceConfig() ServiceConfig {
	cfg := config.Default()
	cfg.Node = "serialbridge"
	cfg.Multicast.Groups = []string{"224.3.39.32"}
	cfg.Multicast.SendAddr = "224.3.39.31:3931"
	return ServiceConfig{Config: cfg}
}

type counters struct {
	framesOut     atomic.Uint64
	framesGated   atomic.Uint64
	framesRelayed atomic.Uint64
	downlinkIn    atomic.Uint64
	downlinkGated atomic.Uint64
}

// Service owns the bridge transports and pipeline.
type Service struct {
	cfg  ServiceConfig
	term *transport.Termination
	set  *services.ServiceRegistry

	ingest   *pipeline.SerialIngest
	serial   *transport.SerialAdapter
	mcast    *transport.MulticastAdapter
	forward  *pipeline.Forwarder
	registry *relay.Registry
	status   *observability.StatusServer

	serialUp atomic.Bool
	mcastUp  atomic.Bool
	stats    counters
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{cfg: cfg, term: transport.NewTermination(), set: services.NewServiceRegistry()}
}

// Run blocks until SIGINT/SIGTERM or a transport is lost.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext bootstraps and serves until ctx ends or a transport is lost.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) multicastEnabled() bool {
	return s.cfg.Multicast.SendAddr != "" || len(s.cfg.Multicast.Groups) > 0
}

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.cfg.ValidateSerial(); err != nil {
		return err
	}
	if !s.multicastEnabled() && !s.cfg.Pipeline.DirectRelay {
		return ErrNoOutput
	}

	s.ingest = pipeline.NewSerialIngest(pipeline.SerialIngestConfig{
		Limits:         frame.Limits{MaxMessageBytes: s.cfg.Pipeline.MaxMessageBytes},
		DropInvalidCRC: s.cfg.Pipeline.DropInvalidCRC,
	}, s.onFrame)
	s.serial = transport.NewSerialAdapter(s.cfg.Serial, s.cfg.OpenPort, transport.Callbacks{
		Connect: func() { s.serialUp.Store(true) },
		Data:    s.ingest.Feed,
		Close: func(error) {
			s.serialUp.Store(false)
			s.ingest.Reset()
		},
	}, s.term)
	if err := s.set.Register(services.Func{ServiceName: "serial", Fn: s.serial.Run}); err != nil {
		return err
	}

	if s.multicastEnabled() {
		if err := s.cfg.ValidateMulticast(); err != nil {
			return err
		}
		s.mcast = transport.NewMulticastAdapter(s.cfg.Multicast, transport.Callbacks{
			Connect: func() { s.mcastUp.Store(true) },
			Data:    s.onDownlink,
			Close:   func(error) { s.mcastUp.Store(false) },
		}, s.term)
		if err := s.set.Register(services.Func{ServiceName: "multicast", Fn: s.mcast.Run}); err != nil {
			return err
		}
	}

	if s.cfg.Pipeline.DirectRelay {
		if err := s.cfg.ValidateRelay(); err != nil {
			return err
		}
		dialer := s.cfg.Dialer
		if dialer == nil {
			ws, err := transport.NewWebSocketDialer(s.cfg.Relay.Session)
			if err != nil {
				return err
			}
			dialer = relay.WebSocket(ws, func(source string, p []byte) {
				log.Debug().Str("source", source).Int("bytes", len(p)).Msg("bridge.Service relay downlink")
				s.onDownlink(p)
			})
		}
		s.registry = relay.NewRegistry(s.cfg.Relay, dialer)
		s.forward = pipeline.NewForwarder(pipeline.PathSerial, s.cfg.Pipeline.BucketDivisor, s.relayFrame)
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
		Str("device", s.cfg.Serial.Device).
		Bool("multicast", s.multicastEnabled()).
		Str("uplink", s.cfg.Multicast.SendAddr).
		Bool("direct_relay", s.cfg.Pipeline.DirectRelay).
		Msg("bridge.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Losing any transport ends the whole process.
	go func() {
		select {
		case <-ctx.Done():
		case <-s.term.Done():
			cancel()
		}
	}()

	err := s.set.RunAll(ctx)
	if s.registry != nil {
		_ = s.registry.Close()
	}
	if err == nil {
		err = s.term.Err()
	}
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	log.Info().Str("node", s.cfg.Node).Msg("bridge.Service.serve shutdown")
	return nil
}

// onFrame receives every closed frame from the aggregator.
func (s *Service) onFrame(f protocol.Frame) {
	if s.mcast != nil && s.cfg.Multicast.SendAddr != "" {
		if !s.mcast.MayWrite() {
			s.stats.framesGated.Add(1)
		} else if err := s.mcast.Write(f); err != nil {
			s.stats.framesGated.Add(1)
			log.Debug().Err(err).Int("bytes", len(f)).Msg("bridge.Service.onFrame multicast write skipped")
		} else {
			s.stats.framesOut.Add(1)
		}
	}
	if s.forward != nil {
		s.forward.Handle(f)
	}
}

func (s *Service) relayFrame(f protocol.Frame) {
	s.registry.Submit(f)
	s.stats.framesRelayed.Add(1)
}

// onDownlink writes ground traffic to the device unmodified.
func (s *Service) onDownlink(p []byte) {
	s.stats.downlinkIn.Add(1)
	if !s.serial.MayWrite() {
		s.stats.downlinkGated.Add(1)
		return
	}
	if err := s.serial.Write(p); err != nil {
		s.stats.downlinkGated.Add(1)
		log.Debug().Err(err).Int("bytes", len(p)).Msg("bridge.Service.onDownlink serial write skipped")
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
			snap := s.stats.snapshot()
			log.Info().
				Str("node", s.cfg.Node).
				Bool("serial_up", s.serialUp.Load()).
				Bool("multicast_up", s.mcastUp.Load()).
				Uint64("frames_out", snap.FramesOut).
				Uint64("frames_gated", snap.FramesGated).
				Uint64("frames_relayed", snap.FramesRelayed).
				Uint64("downlink_in", snap.DownlinkIn).
				Int("pending_bytes", s.ingest.Aggregator().Pending()).
				Msg("bridge.Service.heartbeat")
		}
	}
}

// Ready reports whether every enabled transport is connected.
func (s *Service) Ready() bool {
	if !s.serialUp.Load() {
		return false
	}
	return s.mcast == nil || s.mcastUp.Load()
}

// Stats is a point-in-time copy of the bridge counters.
type Stats struct {
	FramesOut     uint64            `json:"frames_out"`
	FramesGated   uint64            `json:"frames_gated"`
	FramesRelayed uint64            `json:"frames_relayed"`
	DownlinkIn    uint64            `json:"downlink_in"`
	DownlinkGated uint64            `json:"downlink_gated"`
	SyncDrops     map[string]uint64 `json:"sync_drops,omitempty"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		FramesOut:     c.framesOut.Load(),
		FramesGated:   c.framesGated.Load(),
		FramesRelayed: c.framesRelayed.Load(),
		DownlinkIn:    c.downlinkIn.Load(),
		DownlinkGated: c.downlinkGated.Load(),
	}
}

func (s *Service) Stats() Stats {
	out := s.stats.snapshot()
	if s.ingest != nil {
		out.SyncDrops = s.ingest.Drops()
	}
	return out
}

// Snapshot is served at /sources by the status server.
func (s *Service) Snapshot() any {
	out := struct {
		Services []services.Status    `json:"services"`
		Sources  []relay.SourceStatus `json:"sources"`
		Stats    Stats                `json:"stats"`
	}{
		Services: s.set.Status(),
		Sources:  []relay.SourceStatus{},
		Stats:    s.Stats(),
	}
	if s.registry != nil {
		out.Sources = s.registry.Snapshot()
	}
	return out
}
