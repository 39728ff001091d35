package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/telemlink/internal/monitor"
	"github.com/danmuck/telemlink/internal/observability"
	"github.com/spf13/pflag"
)

func main() {
	observability.InitLogger("telemmon")
	cfg, err := loadMonitorConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemmon: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := monitor.New(cfg).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "telemmon: %v\n", err)
		os.Exit(1)
	}
}
