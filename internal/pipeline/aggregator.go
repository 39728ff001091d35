package pipeline

import (
	"sync"
	"time"

	"github.com/danmuck/telemlink/internal/observability"
	"github.com/danmuck/telemlink/internal/protocol"
	"github.com/danmuck/telemlink/internal/protocol/cobs"
	"github.com/rs/zerolog/log"
)

// State is the aggregator lifecycle.
type State int

const (
	StateIdle State = iota
	StateAccumulating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	default:
		return "unknown"
	}
}

// Aggregator groups messages into frames delimited by SEQUENCE markers.
//
// Each SEQUENCE after the first closes the open frame: a TIME_EPOCH message
// carrying the epoch recorded at the previous SEQUENCE is appended, the frame
// is handed to emit, and the SEQUENCE itself opens the next frame.
type Aggregator struct {
	mu       sync.Mutex
	path     string
	now      func() time.Time
	emit     func(protocol.Frame)
	buf      []byte
	epoch    uint64
	hasEpoch bool
}

// NewAggregator returns an aggregator that hands closed frames to emit.
// now defaults to time.Now.
func NewAggregator(path string, now func() time.Time, emit func(protocol.Frame)) *Aggregator {
	if now == nil {
		now = time.Now
	}
	if emit == nil {
		emit = func(protocol.Frame) {}
	}
	return &Aggregator{path: path, now: now, emit: emit}
}

// Add appends one validated message. stuffed is its wire encoding without
// the delimiter, as recovered by the synchronizer.
func (a *Aggregator) Add(tag protocol.Tag, stuffed []byte) {
	closed := a.add(tag, stuffed)
	if closed != nil {
		observability.RecordFrameClosed(a.path, len(closed))
		log.Debug().Str("path", a.path).Int("bytes", len(closed)).Msg("pipeline.Aggregator.Add frame closed")
		a.emit(closed)
	}
}

// AddMessage stuffs msg and appends it.
func (a *Aggregator) AddMessage(msg protocol.Message) {
	a.Add(msg.Tag(), cobs.Encode(msg))
}

func (a *Aggregator) add(tag protocol.Tag, stuffed []byte) protocol.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()

	var closed protocol.Frame
	if tag == protocol.TagSequence {
		if a.hasEpoch {
			closed = protocol.Frame(protocol.EpochMessage(a.epoch).AppendEncoded(a.buf))
			a.buf = make([]byte, 0, len(closed))
		}
		a.epoch = uint64(a.now().UnixMicro())
		a.hasEpoch = true
	}
	a.buf = append(a.buf, stuffed...)
	a.buf = append(a.buf, cobs.Delimiter)
	return closed
}

func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasEpoch && len(a.buf) == 0 {
		return StateIdle
	}
	return StateAccumulating
}

// Pending returns the size of the open frame.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Reset discards the open frame and the recorded epoch.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = nil
	a.epoch = 0
	a.hasEpoch = false
}
