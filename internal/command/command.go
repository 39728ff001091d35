// Package command builds the fixed-format actuator command frames accepted
// by the low-level flight controller.
//
// Frame layout: header 0xAB, command code, little-endian parameters, and a
// checksum byte equal to the sum of code and parameters mod 256.
package command

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const Header byte = 0xAB

// Code identifies an actuator command.
type Code uint8

const (
	CodeNoCommand     Code = 0x00
	CodeStop          Code = 0x01
	CodeSetAngle      Code = 0x02
	CodeStartSin      Code = 0x03
	CodeStartTrap     Code = 0x04
	CodeStartSinSweep Code = 0x05
	// CodeStartTrapSweep is reserved by the firmware and carries no parameters.
	CodeStartTrapSweep Code = 0x06
)

var (
	ErrShortFrame = errors.New("command: frame too short")
	ErrBadHeader  = errors.New("command: bad header")
	ErrChecksum   = errors.New("command: checksum mismatch")
	ErrUnknown    = errors.New("command: unknown command code")
	ErrParamSize  = errors.New("command: unexpected parameter size")
)

// paramSize is the parameter block length per command.
var paramSize = map[Code]int{
	CodeStop:           0,
	CodeSetAngle:       4,
	CodeStartSin:       12,
	CodeStartTrap:      16,
	CodeStartSinSweep:  24,
	CodeStartTrapSweep: 0,
}

func (c Code) String() string {
	switch c {
	case CodeNoCommand:
		return "no-command"
	case CodeStop:
		return "stop"
	case CodeSetAngle:
		return "set-angle"
	case CodeStartSin:
		return "start-sin"
	case CodeStartTrap:
		return "start-trap"
	case CodeStartSinSweep:
		return "start-sin-sweep"
	case CodeStartTrapSweep:
		return "start-trap-sweep"
	default:
		return fmt.Sprintf("code-%#02x", uint8(c))
	}
}

// Checksum is the sum of b mod 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Command is one decoded actuator command.
type Command struct {
	Code   Code
	Params []byte
}

// Encode returns the wire frame for c.
func (c Command) Encode() []byte {
	out := make([]byte, 0, 3+len(c.Params))
	out = append(out, Header, byte(c.Code))
	out = append(out, c.Params...)
	return append(out, Checksum(out[1:]))
}

// Parse validates a wire frame.
func Parse(frame []byte) (Command, error) {
	if len(frame) < 3 {
		return Command{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}
	if frame[0] != Header {
		return Command{}, fmt.Errorf("%w: %#02x", ErrBadHeader, frame[0])
	}
	body := frame[1 : len(frame)-1]
	if want := Checksum(body); frame[len(frame)-1] != want {
		return Command{}, fmt.Errorf("%w: got=%#02x want=%#02x", ErrChecksum, frame[len(frame)-1], want)
	}
	code := Code(body[0])
	size, ok := paramSize[code]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknown, code)
	}
	if len(body)-1 != size {
		return Command{}, fmt.Errorf("%w: %s has %d bytes, want %d", ErrParamSize, code, len(body)-1, size)
	}
	return Command{Code: code, Params: append([]byte(nil), body[1:]...)}, nil
}

// Floats decodes the leading float32 parameters.
func (c Command) Floats(n int) []float32 {
	out := make([]float32, 0, n)
	for i := 0; i < n && 4*i+4 <= len(c.Params); i++ {
		out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(c.Params[4*i:])))
	}
	return out
}

func params(floats []float32, ints ...int32) []byte {
	out := make([]byte, 0, 4*(len(floats)+len(ints)))
	for _, f := range floats {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	for _, v := range ints {
		out = binary.LittleEndian.AppendUint32(out, uint32(v))
	}
	return out
}

func Stop() Command {
	return Command{Code: CodeStop}
}

func SetAngle(angleDeg float32) Command {
	return Command{Code: CodeSetAngle, Params: params([]float32{angleDeg})}
}

func StartSin(minDeg, maxDeg, periodS float32) Command {
	return Command{Code: CodeStartSin, Params: params([]float32{minDeg, maxDeg, periodS})}
}

func StartTrap(minDeg, maxDeg, periodS, plateauS float32) Command {
	return Command{Code: CodeStartTrap, Params: params([]float32{minDeg, maxDeg, periodS, plateauS})}
}

func StartSinSweep(minDeg, maxDeg, periodMinS, periodMaxS float32, periods, cyclesPerPeriod int32) Command {
	return Command{
		Code:   CodeStartSinSweep,
		Params: params([]float32{minDeg, maxDeg, periodMinS, periodMaxS}, periods, cyclesPerPeriod),
	}
}
