package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/telemlink/internal/observability"
	"github.com/danmuck/telemlink/internal/protocol"
	"github.com/danmuck/telemlink/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURI is used when neither config nor WEBSOCKET_URI name one.
const DefaultBaseURI = "wss://telem.dufour.aero/stream/cm298y4c/d03"

// DefaultMaxTrackedFailures bounds the per-source failure history.
const DefaultMaxTrackedFailures = 256

// Config configures a Registry.
type Config struct {
	BaseURI string
	Session session.Config
	// MaxTrackedFailures caps how many failed sources are remembered for
	// backoff and Snapshot. Zero means DefaultMaxTrackedFailures.
	MaxTrackedFailures int
	// Now defaults to time.Now.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		BaseURI:            DefaultBaseURI,
		Session:            session.DefaultConfig(),
		MaxTrackedFailures: DefaultMaxTrackedFailures,
	}
}

type entry struct {
	source  string
	id      string
	state   State
	outbox  *session.Outbox
	since   time.Time
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type failure struct {
	attempts int
	retryAt  time.Time
	lastErr  string
}

// SourceStatus is one row of Snapshot.
type SourceStatus struct {
	Source        string    `json:"source"`
	State         string    `json:"state"`
	ConnectionID  string    `json:"connection_id,omitempty"`
	Since         time.Time `json:"since,omitzero"`
	FramesSent    uint64    `json:"frames_sent"`
	FramesDropped uint64    `json:"frames_dropped"`
	Failures      int       `json:"failures,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Registry owns the source -> connection map.
type Registry struct {
	cfg    Config
	dialer Dialer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	entries  map[string]*entry
	failures map[string]failure
	rng      *rand.Rand
	closed   bool
}

func NewRegistry(cfg Config, dialer Dialer) *Registry {
	if strings.TrimSpace(cfg.BaseURI) == "" {
		cfg.BaseURI = DefaultBaseURI
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxTrackedFailures <= 0 {
		cfg.MaxTrackedFailures = DefaultMaxTrackedFailures
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		dialer:   dialer,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
		failures: make(map[string]failure),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Endpoint returns the relay URL for source.
func (r *Registry) Endpoint(source string) string {
	return strings.TrimRight(r.cfg.BaseURI, "/") + "/" + url.PathEscape(source)
}

// Submit routes frame to its source's connection. It never blocks. The
// returned channel receives exactly one value: nil once the frame was sent,
// or the reason it was not. The registry keeps frame until then; callers
// must not modify it.
func (r *Registry) Submit(frame protocol.Frame) <-chan error {
	done := make(chan error, 1)
	source, err := frame.Source()
	if err != nil {
		observability.RecordRelayFrame("", "no_source")
		log.Warn().Int("bytes", len(frame)).Msg("relay.Registry.Submit frame has no source id; can not send")
		done <- err
		return done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		done <- ErrClosed
		return done
	}

	e, ok := r.entries[source]
	switch {
	case !ok:
		if f, failed := r.failures[source]; failed && r.cfg.Now().Before(f.retryAt) {
			observability.RecordRelayFrame(source, "backoff")
			done <- fmt.Errorf("%w: source=%s retry_at=%s", ErrBackoff, source, f.retryAt.Format(time.RFC3339Nano))
			return done
		}
		e = &entry{
			source: source,
			id:     uuid.NewString(),
			state:  StateConnecting,
			outbox: session.NewOutbox(),
			since:  r.cfg.Now(),
		}
		r.entries[source] = e
		e.outbox.Put(session.Pending{Payload: frame, QueuedAt: r.cfg.Now(), Done: done})
		r.wg.Add(1)
		go r.runWorker(e)
	case e.state == StateConnecting:
		e.dropped.Add(1)
		observability.RecordRelayFrame(source, "connecting")
		done <- fmt.Errorf("%w: source=%s", ErrConnecting, source)
	default:
		if e.outbox.Put(session.Pending{Payload: frame, QueuedAt: r.cfg.Now(), Done: done}) {
			e.dropped.Add(1)
			observability.RecordRelayFrame(source, "superseded")
		}
	}
	return done
}

func (r *Registry) runWorker(e *entry) {
	defer r.wg.Done()
	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	endpoint := r.Endpoint(e.source)
	start := time.Now()
	conn, err := r.dialer.Dial(ctx, e.source, endpoint)
	observability.RecordRelayConnect(e.source, time.Since(start), err == nil)
	if err != nil {
		r.teardown(e, err)
		return
	}

	r.mu.Lock()
	if r.closed || r.entries[e.source] != e {
		r.mu.Unlock()
		_ = conn.Close()
		observability.RecordRelayDisconnect()
		e.outbox.Drain(ErrClosed)
		return
	}
	e.state = StateConnected
	e.since = r.cfg.Now()
	delete(r.failures, e.source)
	r.mu.Unlock()
	log.Info().Str("source", e.source).Str("conn_id", e.id).Str("endpoint", endpoint).Msg("relay.Registry.runWorker connected")

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			r.teardown(e, ErrClosed)
			return
		case <-conn.Done():
			err := conn.Err()
			if err == nil {
				err = ErrClosed
			}
			r.teardown(e, err)
			return
		case <-e.outbox.Ready():
			p, ok := e.outbox.Take()
			if !ok {
				continue
			}
			if err := conn.Send(ctx, p.Payload); err != nil {
				observability.RecordRelayFrame(e.source, "failed")
				p.Complete(err)
				_ = conn.Close()
				r.teardown(e, err)
				return
			}
			e.sent.Add(1)
			observability.RecordRelayFrame(e.source, "sent")
			p.Complete(nil)
		}
	}
}

// teardown removes e if it is still the current entry for its source and
// fails whatever frame is waiting on it.
func (r *Registry) teardown(e *entry, cause error) {
	r.mu.Lock()
	wasConnected := e.state == StateConnected
	current := r.entries[e.source] == e
	if current {
		delete(r.entries, e.source)
		if !r.closed {
			f, known := r.failures[e.source]
			if !known {
				r.makeFailureRoomLocked()
			}
			f.attempts++
			f.retryAt = r.cfg.Now().Add(session.NextBackoffDelay(r.cfg.Session.Backoff, f.attempts, r.rng))
			f.lastErr = cause.Error()
			r.failures[e.source] = f
		}
	}
	e.state = StateAbsent
	r.mu.Unlock()

	if wasConnected {
		observability.RecordRelayDisconnect()
	}
	e.outbox.Drain(cause)
	if errors.Is(cause, ErrClosed) {
		log.Debug().Str("source", e.source).Str("conn_id", e.id).Msg("relay.Registry.teardown closed")
		return
	}
	log.Warn().Str("source", e.source).Str("conn_id", e.id).Bool("was_connected", wasConnected).Err(cause).
		Msg("relay.Registry.teardown connection removed")
}

// makeFailureRoomLocked evicts failure records once the cap is reached:
// expired ones first, then the one whose backoff ends soonest.
func (r *Registry) makeFailureRoomLocked() {
	if len(r.failures) < r.cfg.MaxTrackedFailures {
		return
	}
	now := r.cfg.Now()
	for source, f := range r.failures {
		if !now.Before(f.retryAt) {
			delete(r.failures, source)
		}
	}
	for len(r.failures) >= r.cfg.MaxTrackedFailures {
		var victim string
		var soonest time.Time
		for source, f := range r.failures {
			if victim == "" || f.retryAt.Before(soonest) {
				victim, soonest = source, f.retryAt
			}
		}
		delete(r.failures, victim)
	}
}

// State returns the lifecycle state for source.
func (r *Registry) State(source string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[source]; ok {
		return e.state
	}
	return StateAbsent
}

// Snapshot lists live entries and sources with recorded failures.
func (r *Registry) Snapshot() []SourceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SourceStatus, 0, len(r.entries)+len(r.failures))
	for source, e := range r.entries {
		out = append(out, SourceStatus{
			Source:        source,
			State:         e.state.String(),
			ConnectionID:  e.id,
			Since:         e.since,
			FramesSent:    e.sent.Load(),
			FramesDropped: e.dropped.Load(),
		})
	}
	for source, f := range r.failures {
		if _, live := r.entries[source]; live {
			continue
		}
		out = append(out, SourceStatus{
			Source:    source,
			State:     StateAbsent.String(),
			Failures:  f.attempts,
			LastError: f.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Source < out[j].Source
	})
	return out
}

// Close aborts in-flight dials, closes every connection and fails pending
// frames with ErrClosed. Later submissions fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	clear(r.entries)
	r.mu.Unlock()
	return nil
}
