package transport

import (
	"context"
	"fmt"

	"github.com/danmuck/telemlink/internal/observability"
	"github.com/rs/zerolog/log"
)

// PumpConfig bounds an adapter's outbound queue. The gate closes when the
// queue reaches HighWater and reopens once it drains to LowWater.
type PumpConfig struct {
	QueueDepth int
	HighWater  int
	LowWater   int
}

func DefaultPumpConfig() PumpConfig {
	return PumpConfig{QueueDepth: 64, HighWater: 48, LowWater: 16}
}

func (c PumpConfig) normalized() PumpConfig {
	def := DefaultPumpConfig()
	if c.QueueDepth <= 0 {
		c.QueueDepth = def.QueueDepth
	}
	if c.HighWater <= 0 || c.HighWater > c.QueueDepth {
		c.HighWater = c.QueueDepth
	}
	if c.LowWater < 0 || c.LowWater >= c.HighWater {
		c.LowWater = c.HighWater / 2
	}
	return c
}

type writePump struct {
	name    string
	cfg     PumpConfig
	write   func([]byte) error
	queue   chan []byte
	gate    *Gate
	onPause func(bool)
}

func newWritePump(name string, cfg PumpConfig, gate *Gate, write func([]byte) error, onPause func(bool)) *writePump {
	cfg = cfg.normalized()
	return &writePump{
		name:    name,
		cfg:     cfg,
		write:   write,
		queue:   make(chan []byte, cfg.QueueDepth),
		gate:    gate,
		onPause: onPause,
	}
}

// enqueue copies p onto the queue unless the gate is closed.
func (p *writePump) enqueue(b []byte) error {
	if !p.gate.MayWrite() {
		observability.RecordTransportWrite(p.name, "gated")
		return ErrPaused
	}
	buf := append([]byte(nil), b...)
	select {
	case p.queue <- buf:
	default:
		observability.RecordTransportWrite(p.name, "gated")
		p.setPaused(true)
		return ErrPaused
	}
	if len(p.queue) >= p.cfg.HighWater {
		p.setPaused(true)
		// run may have drained the queue before the gate closed.
		if len(p.queue) <= p.cfg.LowWater {
			p.setPaused(false)
		}
	}
	return nil
}

func (p *writePump) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-p.queue:
			if err := p.write(b); err != nil {
				observability.RecordTransportWrite(p.name, "error")
				return fmt.Errorf("%w: %s write: %v", ErrDisconnected, p.name, err)
			}
			observability.RecordTransportWrite(p.name, "ok")
			if !p.gate.MayWrite() && len(p.queue) <= p.cfg.LowWater {
				p.setPaused(false)
			}
		}
	}
}

func (p *writePump) setPaused(paused bool) {
	if !p.gate.Set(paused) {
		return
	}
	observability.RecordBackpressure(p.name, paused)
	if paused {
		log.Warn().Str("transport", p.name).Int("queued", len(p.queue)).Msg("transport.writePump paused")
	} else {
		log.Info().Str("transport", p.name).Int("queued", len(p.queue)).Msg("transport.writePump resumed")
	}
	if p.onPause != nil {
		p.onPause(paused)
	}
}
