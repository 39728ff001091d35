package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/telemlink/internal/bridge"
	"github.com/danmuck/telemlink/internal/observability"
	"github.com/spf13/pflag"
)

func main() {
	logger := observability.InitLogger("serialbridge")
	cfg, err := loadServiceConfig(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "serialbridge: %v\n", err)
		os.Exit(2)
	}
	logger.Info().Str("device", cfg.Serial.Device).Int("baud", cfg.Serial.BaudRate).Msg("serialbridge starting")

	svc := bridge.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "serialbridge: %v\n", err)
		os.Exit(1)
	}
}
