// Package monitor prints a one-line summary of every frame seen on the
// telemetry multicast groups.
package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/danmuck/telemlink/internal/protocol"
	"github.com/danmuck/telemlink/internal/transport"
	"github.com/rs/zerolog/log"
)

// DefaultGroups are every group the ground and flight sides publish on.
var DefaultGroups = []string{"224.3.39.31", "224.3.39.32", "224.3.39.33", "224.3.39.34"}

type Config struct {
	Multicast transport.MulticastConfig
	// Out receives summary lines. Defaults to stdout.
	Out io.Writer
}

// DefaultConfig listens on every telemetry group and never sends.
func DefaultConfig() Config {
	mc := transport.DefaultMulticastConfig()
	mc.Groups = append([]string(nil), DefaultGroups...)
	mc.SendAddr = ""
	return Config{Multicast: mc, Out: os.Stdout}
}

type Monitor struct {
	cfg     Config
	adapter *transport.MulticastAdapter
	term    *transport.Termination
	frames  atomic.Uint64

	outMu sync.Mutex
}

func New(cfg Config) *Monitor {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	m := &Monitor{cfg: cfg, term: transport.NewTermination()}
	m.adapter = transport.NewMulticastAdapter(cfg.Multicast, transport.Callbacks{
		Data: m.handle,
	}, m.term)
	return m
}

// Ready is closed once the socket has joined its groups.
func (m *Monitor) Ready() <-chan struct{} {
	return m.adapter.Ready()
}

func (m *Monitor) Frames() uint64 {
	return m.frames.Load()
}

// Run blocks until ctx ends or the socket is lost.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().Strs("groups", m.cfg.Multicast.Groups).Int("port", m.cfg.Multicast.Port).Msg("monitor.Monitor.Run listening")
	err := m.adapter.Run(ctx)
	log.Info().Uint64("frames", m.frames.Load()).Msg("monitor.Monitor.Run stopped")
	return err
}

func (m *Monitor) handle(p []byte) {
	m.frames.Add(1)
	line := Summarize(protocol.Frame(p))
	m.outMu.Lock()
	defer m.outMu.Unlock()
	if _, err := fmt.Fprintln(m.cfg.Out, line); err != nil {
		log.Warn().Err(err).Msg("monitor.Monitor.handle write failed")
	}
}
