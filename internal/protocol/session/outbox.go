package session

import (
	"errors"
	"sync"
	"time"
)

// ErrSuperseded completes a pending frame replaced by a newer one before it
// was sent.
var ErrSuperseded = errors.New("session: pending frame superseded")

// Pending is one frame waiting for its source's sender.
type Pending struct {
	Payload  []byte
	QueuedAt time.Time
	Done     chan<- error
}

// Complete reports the outcome of p exactly once. Done must be buffered.
func (p Pending) Complete(err error) {
	if p.Done == nil {
		return
	}
	select {
	case p.Done <- err:
	default:
	}
}

// Outbox is a single-slot latest-frame queue: Put replaces whatever is
// waiting, and the replaced frame is completed with ErrSuperseded. It keeps
// sends for one source in arrival order without unbounded buffering.
type Outbox struct {
	mu       sync.Mutex
	slot     *Pending
	ready    chan struct{}
	replaced uint64
}

func NewOutbox() *Outbox {
	return &Outbox{ready: make(chan struct{}, 1)}
}

// Put stores p and reports whether an older frame was dropped.
func (o *Outbox) Put(p Pending) bool {
	o.mu.Lock()
	old := o.slot
	o.slot = &p
	if old != nil {
		o.replaced++
	}
	o.mu.Unlock()

	if old != nil {
		old.Complete(ErrSuperseded)
	}
	select {
	case o.ready <- struct{}{}:
	default:
	}
	return old != nil
}

// Take removes and returns the waiting frame, if any.
func (o *Outbox) Take() (Pending, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.slot == nil {
		return Pending{}, false
	}
	p := *o.slot
	o.slot = nil
	return p, true
}

// Ready is signalled after every Put. A receive does not guarantee Take
// succeeds.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Drain completes any waiting frame with err.
func (o *Outbox) Drain(err error) {
	if p, ok := o.Take(); ok {
		p.Complete(err)
	}
}

// Replaced returns how many frames were superseded.
func (o *Outbox) Replaced() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.replaced
}
