package crc16

import (
	"encoding/binary"
	"math/rand"
	"testing"
)

// bitwise is the reference shift-register form of the same CRC.
func bitwise(p []byte) uint16 {
	var crc uint16
	for _, b := range p {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func TestChecksumMatchesBitwiseReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 300; n++ {
		p := make([]byte, n)
		rng.Read(p)
		if got, want := Checksum(p), bitwise(p); got != want {
			t.Fatalf("len=%d got=%#04x want=%#04x", n, got, want)
		}
	}
}

func TestChecksumOfEmptyIsZero(t *testing.T) {
	if got := Checksum(nil); got != 0 {
		t.Fatalf("got=%#04x", got)
	}
}

func TestAppendedTrailerZeroesChecksum(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for n := 1; n < 200; n++ {
		p := make([]byte, n)
		rng.Read(p)
		msg := Append(p)
		if len(msg) != n+Size {
			t.Fatalf("len=%d", len(msg))
		}
		if binary.BigEndian.Uint16(msg[n:]) != Checksum(p) {
			t.Fatalf("trailer is not big-endian checksum")
		}
		if !Valid(msg) {
			t.Fatalf("len=%d appended message not valid", n)
		}
	}
}

func TestSingleByteMutationIsDetected(t *testing.T) {
	msg := Append([]byte{0x11, 1, 2, 3, 4, 5, 6, 7, 8})
	for i := range msg {
		for _, flip := range []byte{0x01, 0x80, 0xFF} {
			mutated := append([]byte(nil), msg...)
			mutated[i] ^= flip
			if Valid(mutated) {
				t.Fatalf("mutation at %d (xor %#x) not detected", i, flip)
			}
		}
	}
}

func TestUpdateIsIncremental(t *testing.T) {
	p := []byte("source-veh-1")
	if Update(Update(0, p[:5]), p[5:]) != Checksum(p) {
		t.Fatalf("incremental update mismatch")
	}
}

func TestValidRejectsShortInput(t *testing.T) {
	if Valid([]byte{0}) {
		t.Fatalf("single byte must not be valid")
	}
}
