// actuatorctl sends one actuator command frame to the flight controller,
// either directly over serial or through the bridge's downlink group.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/danmuck/telemlink/internal/observability"
	"github.com/danmuck/telemlink/internal/transport"
	"github.com/spf13/pflag"
)

func main() {
	logger := observability.InitLogger("actuatorctl")
	inv, err := parseInvocation(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "actuatorctl: %v\n%s", err, usage)
		os.Exit(2)
	}

	frame := inv.cmd.Encode()
	if inv.dryRun {
		fmt.Println(hex.EncodeToString(frame))
		return
	}
	if err := send(inv, frame); err != nil {
		fmt.Fprintf(os.Stderr, "actuatorctl: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Str("command", inv.cmd.Code.String()).Str("frame", hex.EncodeToString(frame)).Msg("actuatorctl sent")
}

func send(inv invocation, frame []byte) error {
	var (
		w   io.WriteCloser
		err error
	)
	if inv.udpAddr != "" {
		w, err = net.Dial("udp4", inv.udpAddr)
	} else {
		w, err = transport.OpenSerialPort(inv.device, inv.baudrate)
	}
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = w.Write(frame)
	return err
}
