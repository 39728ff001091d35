package protocol

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/danmuck/telemlink/internal/protocol/cobs"
)

func buildFrame(msgs ...Message) Frame {
	var out []byte
	for _, m := range msgs {
		out = m.AppendEncoded(out)
	}
	return Frame(out)
}

func TestNewMessageValidates(t *testing.T) {
	m := NewMessage(TagIMU, []byte{1, 2, 3, 4})
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Tag() != TagIMU {
		t.Fatalf("unexpected tag: %s", m.Tag())
	}
	if !bytes.Equal(m.Payload(), []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected payload: %x", m.Payload())
	}
}

func TestValidateRejectsShortAndCorrupt(t *testing.T) {
	if err := (Message{0x11, 0x00}).Validate(); !errors.Is(err, ErrMessageTooShort) {
		t.Fatalf("expected ErrMessageTooShort, got %v", err)
	}
	m := NewMessage(TagVoltage, []byte{9, 9})
	m[1] ^= 0x40
	if err := m.Validate(); !errors.Is(err, ErrCRCMismatch) {
		t.Fatalf("expected ErrCRCMismatch, got %v", err)
	}
}

func TestEpochMessageLayout(t *testing.T) {
	m := EpochMessage(0x0102030405060708)
	if len(m) != 1+8+2 {
		t.Fatalf("unexpected length: %d", len(m))
	}
	if m[0] != 0x11 {
		t.Fatalf("unexpected tag byte: %#x", m[0])
	}
	if !bytes.Equal(m.Payload(), []byte{8, 7, 6, 5, 4, 3, 2, 1}) {
		t.Fatalf("payload is not little-endian: %x", m.Payload())
	}
	got, err := m.Epoch()
	if err != nil || got != 0x0102030405060708 {
		t.Fatalf("epoch decode: got=%#x err=%v", got, err)
	}
}

func TestSequenceDecode(t *testing.T) {
	info, err := SequenceMessage(7).Sequence()
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if info.Version != Version03 || info.Sequence != 7 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if _, err := NewMessage(TagSequence, nil).Sequence(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if _, err := SourceMessage("x").Sequence(); !errors.Is(err, ErrTagMismatch) {
		t.Fatalf("expected ErrTagMismatch, got %v", err)
	}
}

func TestEncodeHasNoInteriorDelimiter(t *testing.T) {
	m := NewMessage(TagDebugValues, []byte{0, 0, 1, 0, 2})
	wire := m.Encode()
	if wire[len(wire)-1] != cobs.Delimiter {
		t.Fatalf("missing trailing delimiter")
	}
	if bytes.IndexByte(wire[:len(wire)-1], cobs.Delimiter) >= 0 {
		t.Fatalf("delimiter inside stuffed message: %x", wire)
	}
	decoded, err := cobs.Decode(wire[:len(wire)-1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, m) {
		t.Fatalf("round trip mismatch: got=%x want=%x", decoded, m)
	}
}

func TestFrameMessagesSkipsUndecodable(t *testing.T) {
	a := NewMessage(TagCurrent, []byte{1})
	b := NewMessage(TagVoltage, []byte{2})
	f := buildFrame(a)
	f = append(f, 0x05, 0x01, 0x00) // truncated block
	f = append(f, 0x02, 0x01, 0x00) // decodes to one byte
	f = b.AppendEncoded(f)

	var got []Tag
	for m := range f.Messages() {
		got = append(got, m.Tag())
	}
	if !slices.Equal(got, []Tag{TagCurrent, TagVoltage}) {
		t.Fatalf("unexpected tags: %v", got)
	}
}

func TestFrameSourceLastWins(t *testing.T) {
	f := buildFrame(
		SequenceMessage(1),
		SourceMessage("veh-0"),
		NewMessage(TagIMU, []byte{0, 0}),
		SourceMessage("veh-1"),
	)
	source, err := SourceOf(f)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if source != "veh-1" {
		t.Fatalf("unexpected source: %q", source)
	}
}

func TestFrameWithoutSource(t *testing.T) {
	f := buildFrame(SequenceMessage(1), NewMessage(TagIMU, []byte{1}))
	if _, err := f.Source(); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	if _, err := Frame(nil).Source(); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource on empty frame, got %v", err)
	}
}

func TestTagString(t *testing.T) {
	if TagTimeEpoch.String() != "TIME_EPOCH" {
		t.Fatalf("unexpected name: %s", TagTimeEpoch)
	}
	if Tag(0xEE).String() != "TAG_0xee" {
		t.Fatalf("unexpected unknown name: %s", Tag(0xEE))
	}
}
