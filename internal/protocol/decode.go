package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/danmuck/telemlink/internal/protocol/cobs"
	"github.com/danmuck/telemlink/internal/protocol/crc16"
)

// Message is one decoded (unstuffed) telemetry message: tag, payload and a
// big-endian crc16 trailer.
type Message []byte

// Tag returns the message tag. The message must be at least MinMessageLen.
func (m Message) Tag() Tag {
	return Tag(m[0])
}

// Payload returns the bytes between the tag and the crc trailer.
func (m Message) Payload() []byte {
	return m[1 : len(m)-crc16.Size]
}

// CRC returns the trailer value.
func (m Message) CRC() uint16 {
	return binary.BigEndian.Uint16(m[len(m)-crc16.Size:])
}

// CheckLength reports ErrMessageTooShort for messages that cannot carry a tag
// and a trailer.
func (m Message) CheckLength() error {
	if len(m) < MinMessageLen {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooShort, len(m))
	}
	return nil
}

// Validate checks length and crc.
func (m Message) Validate() error {
	if err := m.CheckLength(); err != nil {
		return err
	}
	if sum := crc16.Checksum(m); sum != 0 {
		return fmt.Errorf("%w: tag=%s trailer=%#04x computed=%#04x",
			ErrCRCMismatch, m.Tag(), m.CRC(), crc16.Checksum(m[:len(m)-crc16.Size]))
	}
	return nil
}

// Epoch decodes a TIME_EPOCH payload.
func (m Message) Epoch() (uint64, error) {
	if err := m.expect(TagTimeEpoch); err != nil {
		return 0, err
	}
	p := m.Payload()
	if len(p) != 8 {
		return 0, fmt.Errorf("%w: time_epoch payload=%d", ErrInvalidLength, len(p))
	}
	return binary.LittleEndian.Uint64(p), nil
}

// Source decodes a SOURCE_ID payload.
func (m Message) Source() (string, error) {
	if err := m.expect(TagSourceID); err != nil {
		return "", err
	}
	return string(m.Payload()), nil
}

// SequenceInfo is the SEQUENCE payload emitted by the flight controller.
type SequenceInfo struct {
	Version  uint8
	Sequence uint8
}

// Sequence decodes a SEQUENCE payload. Only the presence of the message is
// meaningful to aggregation; the content is informational.
func (m Message) Sequence() (SequenceInfo, error) {
	if err := m.expect(TagSequence); err != nil {
		return SequenceInfo{}, err
	}
	p := m.Payload()
	if len(p) < 2 {
		return SequenceInfo{}, fmt.Errorf("%w: sequence payload=%d", ErrInvalidLength, len(p))
	}
	return SequenceInfo{Version: p[0], Sequence: p[1]}, nil
}

func (m Message) expect(tag Tag) error {
	if err := m.CheckLength(); err != nil {
		return err
	}
	if m.Tag() != tag {
		return fmt.Errorf("%w: got=%s want=%s", ErrTagMismatch, m.Tag(), tag)
	}
	return nil
}

// Frame is an assembled frame: zero or more stuffed, delimiter-terminated
// messages. A closed frame is never modified.
type Frame []byte

// Part is one delimiter-separated piece of a frame.
type Part struct {
	Stuffed []byte
	Message Message
}

// Parts walks the delimiter-separated pieces of f. Pieces that fail to unstuff
// are yielded with their error; empty pieces are skipped.
func (f Frame) Parts() iter.Seq2[Part, error] {
	return func(yield func(Part, error) bool) {
		for piece := range bytes.SplitSeq(f, []byte{cobs.Delimiter}) {
			if len(piece) == 0 {
				continue
			}
			raw, err := cobs.Decode(piece)
			if !yield(Part{Stuffed: piece, Message: raw}, err) {
				return
			}
		}
	}
}

// Messages yields every message of f that unstuffs cleanly and is long
// enough to carry a tag and crc. CRC is not checked.
func (f Frame) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for part, err := range f.Parts() {
			if err != nil || part.Message.CheckLength() != nil {
				continue
			}
			if !yield(part.Message) {
				return
			}
		}
	}
}

// Source returns the identity carried by the last SOURCE_ID message in f.
func (f Frame) Source() (string, error) {
	source := ""
	found := false
	for msg := range f.Messages() {
		if msg.Tag() != TagSourceID {
			continue
		}
		source = string(msg.Payload())
		found = true
	}
	if !found || source == "" {
		return "", ErrNoSource
	}
	return source, nil
}

// Clone returns a copy of f that does not alias the original buffer.
func (f Frame) Clone() Frame {
	return Frame(bytes.Clone(f))
}

// SourceOf returns the source identity carried by an assembled frame.
func SourceOf(frame []byte) (string, error) {
	return Frame(frame).Source()
}
