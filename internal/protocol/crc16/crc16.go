// Package crc16 computes the telemetry CRC-16: polynomial 0x1011B, initial
// value 0, no reflection, no final xor.
//
// Because the register is not reflected and not xored, appending the
// big-endian checksum to a message makes the checksum of the whole message
// zero.
package crc16

import "encoding/binary"

// Polynomial is 0x1011B without the implicit x^16 term.
const Polynomial uint16 = 0x011B

// Size is the length in bytes of the checksum trailer.
const Size = 2

var table = makeTable(Polynomial)

func makeTable(poly uint16) *[256]uint16 {
	var t [256]uint16
	for i := range t {
		crc := uint16(i) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

// Update continues a checksum over p.
func Update(crc uint16, p []byte) uint16 {
	for _, b := range p {
		crc = crc<<8 ^ table[byte(crc>>8)^b]
	}
	return crc
}

// Checksum returns the CRC of p.
func Checksum(p []byte) uint16 {
	return Update(0, p)
}

// Append appends the big-endian CRC of p to p.
func Append(p []byte) []byte {
	return binary.BigEndian.AppendUint16(p, Checksum(p))
}

// Valid reports whether p ends in a matching checksum trailer.
func Valid(p []byte) bool {
	return len(p) >= Size && Checksum(p) == 0
}
