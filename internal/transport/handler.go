package transport

import (
	"sync"
	"sync/atomic"
)

// Handler receives transport lifecycle and data callbacks. OnData's slice is
// only valid for the duration of the call.
type Handler interface {
	OnConnect()
	OnData(p []byte)
	OnBackpressure(paused bool)
	OnClose(err error)
}

// Callbacks adapts plain functions to Handler. Nil fields are ignored.
type Callbacks struct {
	Connect      func()
	Data         func(p []byte)
	Backpressure func(paused bool)
	Close        func(err error)
}

func (c Callbacks) OnConnect() {
	if c.Connect != nil {
		c.Connect()
	}
}

func (c Callbacks) OnData(p []byte) {
	if c.Data != nil {
		c.Data(p)
	}
}

func (c Callbacks) OnBackpressure(paused bool) {
	if c.Backpressure != nil {
		c.Backpressure(paused)
	}
}

func (c Callbacks) OnClose(err error) {
	if c.Close != nil {
		c.Close(err)
	}
}

// Gate is the may_write flag of one adapter. Writes are suppressed, not
// queued, while it is closed.
type Gate struct {
	paused atomic.Bool
}

func (g *Gate) MayWrite() bool {
	return !g.paused.Load()
}

// Set updates the gate and reports whether the state changed.
func (g *Gate) Set(paused bool) bool {
	return g.paused.Swap(paused) != paused
}

// Termination is resolved once by whichever transport is lost first; every
// component of the process watches it to shut down together.
type Termination struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewTermination() *Termination {
	return &Termination{done: make(chan struct{})}
}

// Resolve records err and releases Done. Later calls are ignored.
func (t *Termination) Resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Termination) Done() <-chan struct{} {
	return t.done
}

// Err returns the resolving error, or nil while unresolved.
func (t *Termination) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
