package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

// SerialConfig configures the serial adapter.
type SerialConfig struct {
	Device   string
	BaudRate int
	// Handshake writes one delimiter byte on connect so the device side
	// decoder synchronizes.
	Handshake       bool
	ReadBufferBytes int
	Pump            PumpConfig
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Device:          "/dev/ttyACM0",
		BaudRate:        115200,
		Handshake:       true,
		ReadBufferBytes: 4096,
		Pump:            DefaultPumpConfig(),
	}
}

// PortOpener opens a serial device. Tests substitute in-memory pipes.
type PortOpener func(device string, baud int) (io.ReadWriteCloser, error)

// OpenSerialPort opens device as 8N1 at baud.
func OpenSerialPort(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, device, err)
	}
	return port, nil
}

// SerialAdapter drives one serial port: a read loop feeding the handler and
// a write pump behind the gate.
type SerialAdapter struct {
	cfg     SerialConfig
	open    PortOpener
	handler Handler
	term    *Termination
	gate    Gate

	mu   sync.Mutex
	pump *writePump
}

func NewSerialAdapter(cfg SerialConfig, open PortOpener, handler Handler, term *Termination) *SerialAdapter {
	if open == nil {
		open = OpenSerialPort
	}
	if handler == nil {
		handler = Callbacks{}
	}
	if term == nil {
		term = NewTermination()
	}
	if cfg.ReadBufferBytes <= 0 {
		cfg.ReadBufferBytes = DefaultSerialConfig().ReadBufferBytes
	}
	return &SerialAdapter{cfg: cfg, open: open, handler: handler, term: term}
}

// Run opens the port and blocks until ctx ends or the port is lost. Port
// loss resolves the Termination and is returned; cancellation returns nil.
func (a *SerialAdapter) Run(ctx context.Context) error {
	port, err := a.open(a.cfg.Device, a.cfg.BaudRate)
	if err != nil {
		log.Error().Err(err).Str("device", a.cfg.Device).Msg("transport.SerialAdapter.Run open failed")
		a.term.Resolve(err)
		a.handler.OnClose(err)
		return err
	}
	log.Info().Str("device", a.cfg.Device).Int("baud", a.cfg.BaudRate).Msg("transport.SerialAdapter.Run connected")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pump := newWritePump("serial", a.cfg.Pump, &a.gate, func(b []byte) error {
		_, err := port.Write(b)
		return err
	}, a.handler.OnBackpressure)
	a.mu.Lock()
	a.pump = pump
	a.mu.Unlock()

	a.handler.OnConnect()
	if a.cfg.Handshake {
		_ = pump.enqueue([]byte{0x00})
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return pump.run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return port.Close()
	})
	g.Go(func() error {
		return a.readLoop(gctx, port)
	})
	err = g.Wait()

	a.mu.Lock()
	a.pump = nil
	a.mu.Unlock()

	if ctx.Err() != nil {
		a.handler.OnClose(nil)
		a.term.Resolve(nil)
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: serial %s", ErrDisconnected, a.cfg.Device)
	}
	log.Error().Err(err).Str("device", a.cfg.Device).Msg("transport.SerialAdapter.Run connection lost")
	a.handler.OnClose(err)
	a.term.Resolve(err)
	return err
}

func (a *SerialAdapter) readLoop(ctx context.Context, port io.Reader) error {
	buf := make([]byte, a.cfg.ReadBufferBytes)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			a.handler.OnData(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: serial %s: eof", ErrDisconnected, a.cfg.Device)
			}
			return fmt.Errorf("%w: serial %s: %v", ErrDisconnected, a.cfg.Device, err)
		}
		if n == 0 && ctx.Err() != nil {
			return nil
		}
	}
}

// Write queues p for the port. It returns ErrPaused while backpressured and
// ErrNotConnected before Run connects.
func (a *SerialAdapter) Write(p []byte) error {
	a.mu.Lock()
	pump := a.pump
	a.mu.Unlock()
	if pump == nil {
		return ErrNotConnected
	}
	return pump.enqueue(p)
}

func (a *SerialAdapter) MayWrite() bool {
	return a.gate.MayWrite()
}
