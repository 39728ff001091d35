// Package cobs implements Consistent Overhead Byte Stuffing with 0x00 as the
// reserved delimiter.
package cobs

import (
	"errors"
	"fmt"
)

// Delimiter terminates every stuffed message on the wire.
const Delimiter byte = 0x00

var (
	ErrZeroByte  = errors.New("cobs: zero byte in encoded data")
	ErrTruncated = errors.New("cobs: block longer than remaining input")
)

// Encode stuffs src so that the result contains no Delimiter byte. The
// trailing Delimiter is not appended.
func Encode(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/254+2)
	start := 0
	finalZero := true
	for i, b := range src {
		if b == 0 {
			finalZero = true
			out = append(out, byte(i-start+1))
			out = append(out, src[start:i]...)
			start = i + 1
			continue
		}
		if i-start == 0xFD {
			finalZero = false
			out = append(out, 0xFF)
			out = append(out, src[start:i+1]...)
			start = i + 1
		}
	}
	if start != len(src) || finalZero {
		out = append(out, byte(len(src)-start+1))
		out = append(out, src[start:]...)
	}
	return out
}

// AppendFrame appends the stuffed form of src followed by Delimiter to dst.
func AppendFrame(dst, src []byte) []byte {
	dst = append(dst, Encode(src)...)
	return append(dst, Delimiter)
}

// Decode reverses Encode. src must not include the trailing Delimiter.
func Decode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	i := 0
	for i < len(src) {
		code := src[i]
		if code == 0 {
			return nil, fmt.Errorf("%w at offset %d", ErrZeroByte, i)
		}
		i++
		end := i + int(code) - 1
		if end > len(src) {
			return nil, fmt.Errorf("%w: code=%d offset=%d len=%d", ErrTruncated, code, i-1, len(src))
		}
		for j := i; j < end; j++ {
			if src[j] == 0 {
				return nil, fmt.Errorf("%w at offset %d", ErrZeroByte, j)
			}
		}
		out = append(out, src[i:end]...)
		i = end
		if code < 0xFF && i < len(src) {
			out = append(out, 0)
		}
	}
	return out, nil
}
