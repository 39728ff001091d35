package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/telemlink/internal/command"
	"github.com/spf13/pflag"
)

var ErrUsage = errors.New("actuatorctl: invalid usage")

const usage = `usage: actuatorctl [--device DEV] [--baudrate N] [--udp HOST:PORT] [--dry-run] COMMAND ARGS...

commands:
  stop
  set-angle ANGLE_DEG
  start-sin MIN_DEG MAX_DEG PERIOD_S
  start-trap MIN_DEG MAX_DEG PERIOD_S PLATEAU_S
  start-sin-sweep MIN_DEG MAX_DEG PERIOD_MIN_S PERIOD_MAX_S N_PERIODS N_CYCLES
`

type invocation struct {
	device   string
	baudrate int
	udpAddr  string
	dryRun   bool
	cmd      command.Command
}

func parseInvocation(args []string) (invocation, error) {
	var inv invocation
	fs := pflag.NewFlagSet("actuatorctl", pflag.ContinueOnError)
	fs.StringVar(&inv.device, "device", "/dev/ttyACM0", "serial device")
	fs.IntVar(&inv.baudrate, "baudrate", 115200, "serial baud rate")
	fs.StringVar(&inv.udpAddr, "udp", "", "send to this UDP address (e.g. 224.3.39.32:3931) instead of serial")
	fs.BoolVar(&inv.dryRun, "dry-run", false, "print the encoded frame as hex and exit")
	fs.SetInterspersed(false)
	if err := fs.Parse(args); err != nil {
		return invocation{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return invocation{}, fmt.Errorf("%w: missing command", ErrUsage)
	}
	cmd, err := buildCommand(rest[0], rest[1:])
	if err != nil {
		return invocation{}, err
	}
	inv.cmd = cmd
	return inv, nil
}

func buildCommand(name string, args []string) (command.Command, error) {
	want := map[string]int{
		"stop":            0,
		"set-angle":       1,
		"start-sin":       3,
		"start-trap":      4,
		"start-sin-sweep": 6,
	}
	name = strings.ToLower(strings.TrimSpace(name))
	n, ok := want[name]
	if !ok {
		return command.Command{}, fmt.Errorf("%w: unknown command %q", ErrUsage, name)
	}
	if len(args) != n {
		return command.Command{}, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrUsage, name, n, len(args))
	}

	floats := make([]float32, 0, n)
	for i, a := range args {
		if name == "start-sin-sweep" && i >= 4 {
			break
		}
		v, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return command.Command{}, fmt.Errorf("%w: argument %d: %v", ErrUsage, i+1, err)
		}
		floats = append(floats, float32(v))
	}

	switch name {
	case "stop":
		return command.Stop(), nil
	case "set-angle":
		return command.SetAngle(floats[0]), nil
	case "start-sin":
		return command.StartSin(floats[0], floats[1], floats[2]), nil
	case "start-trap":
		return command.StartTrap(floats[0], floats[1], floats[2], floats[3]), nil
	default:
		ints := make([]int32, 0, 2)
		for i, a := range args[4:] {
			v, err := strconv.ParseInt(a, 10, 32)
			if err != nil {
				return command.Command{}, fmt.Errorf("%w: argument %d: %v", ErrUsage, i+5, err)
			}
			ints = append(ints, int32(v))
		}
		return command.StartSinSweep(floats[0], floats[1], floats[2], floats[3], ints[0], ints[1]), nil
	}
}
