package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/danmuck/telemlink/internal/observability"
	"github.com/danmuck/telemlink/internal/protocol"
	"github.com/danmuck/telemlink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Sink receives closed or forwarded frames. A sink must not retain or modify
// the frame beyond the lifetime it documents; frames are never reused by the
// pipeline.
type Sink func(protocol.Frame)

// SerialIngestConfig configures the serial ingest chain.
type SerialIngestConfig struct {
	Limits         frame.Limits
	DropInvalidCRC bool
	Now            func() time.Time
}

// SerialIngest runs raw serial bytes through synchronizer, validator and
// aggregator. Closed frames go to sink.
type SerialIngest struct {
	mu        sync.Mutex
	sync      *frame.Synchronizer
	validator *Validator
	agg       *Aggregator
	drops     map[string]uint64
}

func NewSerialIngest(cfg SerialIngestConfig, sink Sink) *SerialIngest {
	if sink == nil {
		sink = func(protocol.Frame) {}
	}
	return &SerialIngest{
		sync:      frame.NewSynchronizer(cfg.Limits),
		validator: NewValidator(ValidatorConfig{Path: PathSerial, DropInvalidCRC: cfg.DropInvalidCRC}),
		agg:       NewAggregator(PathSerial, cfg.Now, sink),
		drops:     make(map[string]uint64),
	}
}

// Feed consumes one chunk read from the serial device.
func (s *SerialIngest) Feed(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sync.Feed(p, s.handle)
}

func (s *SerialIngest) handle(raw frame.RawMessage, err error) {
	if err != nil {
		reason := "malformed"
		switch {
		case errors.Is(err, frame.ErrMessageTooLarge):
			reason = "oversize"
		case errors.Is(err, frame.ErrEmptyMessage):
			reason = "short"
		}
		s.drops[reason]++
		observability.RecordSyncDrop(PathSerial, reason)
		log.Debug().Err(err).Msg("pipeline.SerialIngest.handle dropped stuffed message")
		return
	}
	msg := protocol.Message(raw.Decoded)
	if keep, _ := s.validator.Check(msg); !keep {
		return
	}
	s.agg.Add(msg.Tag(), raw.Stuffed)
}

// Reset returns the chain to its start-of-stream state.
func (s *SerialIngest) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sync.Reset()
	s.agg.Reset()
}

func (s *SerialIngest) Synchronized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync.Synchronized()
}

// Drops returns synchronizer drop counts by reason (malformed, oversize,
// short) since construction.
func (s *SerialIngest) Drops() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.drops))
	for reason, n := range s.drops {
		out[reason] = n
	}
	return out
}

func (s *SerialIngest) Aggregator() *Aggregator {
	return s.agg
}

// NetworkIngestConfig configures the network ingest chain.
type NetworkIngestConfig struct {
	BucketDivisor  int
	DropInvalidCRC bool
}

// NetworkIngest handles assembled frames received as datagrams: downsample,
// then crc-check the contained messages for reporting.
type NetworkIngest struct {
	down      *Downsampler
	validator *Validator
	dropBad   bool
	sink      Sink
}

func NewNetworkIngest(cfg NetworkIngestConfig, sink Sink) *NetworkIngest {
	if sink == nil {
		sink = func(protocol.Frame) {}
	}
	return &NetworkIngest{
		down:      NewDownsampler(PathNetwork, cfg.BucketDivisor),
		validator: NewValidator(ValidatorConfig{Path: PathNetwork, DropInvalidCRC: cfg.DropInvalidCRC}),
		dropBad:   cfg.DropInvalidCRC,
		sink:      sink,
	}
}

// Handle processes one datagram. The datagram is copied before it reaches
// the sink so transport buffers may be reused.
func (n *NetworkIngest) Handle(datagram []byte) bool {
	if !n.down.Allow(len(datagram)) {
		return false
	}
	f := protocol.Frame(datagram)
	for msg := range f.Messages() {
		if keep, _ := n.validator.Check(msg); !keep && n.dropBad {
			log.Warn().Int("bytes", len(datagram)).Msg("pipeline.NetworkIngest.Handle dropped frame with invalid message")
			return false
		}
	}
	n.sink(f.Clone())
	return true
}

func (n *NetworkIngest) Downsampler() *Downsampler {
	return n.down
}

// Forwarder downsamples closed frames before handing them on. It is the
// serial-side counterpart of NetworkIngest for direct relay.
type Forwarder struct {
	down *Downsampler
	sink Sink
}

func NewForwarder(path string, divisor int, sink Sink) *Forwarder {
	if sink == nil {
		sink = func(protocol.Frame) {}
	}
	return &Forwarder{down: NewDownsampler(path, divisor), sink: sink}
}

func (f *Forwarder) Handle(fr protocol.Frame) bool {
	if !f.down.Allow(len(fr)) {
		return false
	}
	f.sink(fr)
	return true
}
