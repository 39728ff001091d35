// Package frame recovers stuffed, delimiter-terminated messages from an
// unframed byte stream.
package frame

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/danmuck/telemlink/internal/protocol/cobs"
)

var (
	ErrMalformed       = errors.New("frame: malformed stuffing")
	ErrMessageTooLarge = errors.New("frame: message exceeds limit")
	// ErrEmptyMessage reports back-to-back delimiters. The empty message
	// is shorter than any valid one.
	ErrEmptyMessage = errors.New("frame: empty message")
)

// Limits constrains synchronizer memory use.
type Limits struct {
	MaxMessageBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxMessageBytes: 64 * 1024}
}

// RawMessage is one message recovered from the stream.
type RawMessage struct {
	// Stuffed is the wire encoding without the trailing delimiter.
	Stuffed []byte
	// Decoded is the unstuffed message (tag, payload, crc).
	Decoded []byte
}

// Synchronizer is the byte-wise framing state machine. It starts
// unsynchronized and discards input until the first delimiter, so a stream
// joined mid-message is recovered at the next boundary.
//
// A Synchronizer is not safe for concurrent use.
type Synchronizer struct {
	limits       Limits
	synchronized bool
	buf          []byte
}

func NewSynchronizer(limits Limits) *Synchronizer {
	if limits.MaxMessageBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Synchronizer{limits: limits}
}

// Synchronized reports whether a delimiter has been seen since the last reset.
func (s *Synchronizer) Synchronized() bool {
	return s.synchronized
}

// Buffered returns the number of bytes accumulated toward the next message.
func (s *Synchronizer) Buffered() int {
	return len(s.buf)
}

// Reset drops any partial message and returns to the unsynchronized state.
func (s *Synchronizer) Reset() {
	s.synchronized = false
	s.buf = nil
}

// Push consumes one byte. ok is true when b completed a message that
// unstuffed cleanly. A non-nil error reports a dropped message; it is never
// fatal and the synchronizer keeps accepting input.
func (s *Synchronizer) Push(b byte) (msg RawMessage, ok bool, err error) {
	if !s.synchronized {
		if b == cobs.Delimiter {
			s.synchronized = true
		}
		return RawMessage{}, false, nil
	}
	if b != cobs.Delimiter {
		if len(s.buf) >= s.limits.MaxMessageBytes {
			dropped := len(s.buf)
			s.Reset()
			return RawMessage{}, false, fmt.Errorf("%w: %d bytes without delimiter", ErrMessageTooLarge, dropped+1)
		}
		s.buf = append(s.buf, b)
		return RawMessage{}, false, nil
	}
	if len(s.buf) == 0 {
		return RawMessage{}, false, ErrEmptyMessage
	}
	stuffed := s.buf
	s.buf = nil
	decoded, derr := cobs.Decode(stuffed)
	if derr != nil {
		return RawMessage{}, false, fmt.Errorf("%w: %w", ErrMalformed, derr)
	}
	return RawMessage{Stuffed: stuffed, Decoded: decoded}, true, nil
}

// Feed applies p byte-wise, calling emit for every completed message and
// every dropped one. Chunk boundaries are irrelevant.
func (s *Synchronizer) Feed(p []byte, emit func(RawMessage, error)) {
	for _, b := range p {
		msg, ok, err := s.Push(b)
		if err != nil {
			emit(RawMessage{}, err)
			continue
		}
		if ok {
			emit(msg, nil)
		}
	}
}

// Messages reads r until EOF and yields each recovered message lazily.
// Drop errors (ErrMalformed, ErrMessageTooLarge, ErrEmptyMessage) are yielded and the stream
// continues; a read error other than io.EOF is yielded last.
func (s *Synchronizer) Messages(r io.Reader) iter.Seq2[RawMessage, error] {
	return func(yield func(RawMessage, error) bool) {
		chunk := make([]byte, 4096)
		for {
			n, rerr := r.Read(chunk)
			for _, b := range chunk[:n] {
				msg, ok, err := s.Push(b)
				if err != nil {
					if !yield(RawMessage{}, err) {
						return
					}
					continue
				}
				if ok && !yield(msg, nil) {
					return
				}
			}
			if rerr != nil {
				if !errors.Is(rerr, io.EOF) {
					yield(RawMessage{}, rerr)
				}
				return
			}
		}
	}
}

// IsDrop reports whether err describes a dropped message rather than a
// transport failure.
func IsDrop(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrMessageTooLarge) || errors.Is(err, ErrEmptyMessage)
}
