package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/telemlink/internal/gateway"
	"github.com/danmuck/telemlink/internal/observability"
	"github.com/spf13/pflag"
)

func main() {
	logger := observability.InitLogger("wsrelay")
	cfg, err := loadServiceConfig(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsrelay: %v\n", err)
		os.Exit(2)
	}
	logger.Info().Str("base_uri", cfg.Relay.BaseURI).Strs("groups", cfg.Multicast.Groups).Msg("wsrelay starting")

	svc := gateway.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "wsrelay: %v\n", err)
		os.Exit(1)
	}
}
