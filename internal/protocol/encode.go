package protocol

import (
	"encoding/binary"

	"github.com/danmuck/telemlink/internal/protocol/cobs"
	"github.com/danmuck/telemlink/internal/protocol/crc16"
)

// MinMessageLen is the tag byte plus the crc trailer.
const MinMessageLen = 1 + crc16.Size

// NewMessage builds tag||payload||crc16.
func NewMessage(tag Tag, payload []byte) Message {
	buf := make([]byte, 0, 1+len(payload)+crc16.Size)
	buf = append(buf, byte(tag))
	buf = append(buf, payload...)
	return Message(crc16.Append(buf))
}

// EpochMessage builds a TIME_EPOCH message carrying micros as u64 little-endian.
func EpochMessage(micros uint64) Message {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], micros)
	return NewMessage(TagTimeEpoch, payload[:])
}

// SourceMessage builds a SOURCE_ID message.
func SourceMessage(source string) Message {
	return NewMessage(TagSourceID, []byte(source))
}

// SequenceMessage builds a SEQUENCE message in the v0.3 layout.
func SequenceMessage(seq uint8) Message {
	return NewMessage(TagSequence, []byte{Version03, seq})
}

// Encode returns the stuffed, delimiter-terminated wire form of m.
func (m Message) Encode() []byte {
	return cobs.AppendFrame(nil, m)
}

// AppendEncoded appends the wire form of m to dst.
func (m Message) AppendEncoded(dst []byte) []byte {
	return cobs.AppendFrame(dst, m)
}
