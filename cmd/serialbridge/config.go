package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/telemlink/internal/bridge"
	"github.com/danmuck/telemlink/internal/config"
	"github.com/spf13/pflag"
)

type options struct {
	configPath  string
	device      string
	baudrate    int
	directRelay bool
	baseURI     string
	statusAddr  string
}

func newFlagSet(opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("serialbridge", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	fs.StringVar(&opts.device, "device", "/dev/ttyACM0", "serial device")
	fs.IntVar(&opts.baudrate, "baudrate", 115200, "serial baud rate")
	fs.BoolVar(&opts.directRelay, "direct-relay", false, "also relay frames to the WebSocket endpoint")
	fs.StringVar(&opts.baseURI, "base-uri", "", "relay base URI (overrides "+config.EnvRelayBaseURI+")")
	fs.StringVar(&opts.statusAddr, "status-addr", "", "status HTTP listen address")
	return fs
}

// loadServiceConfig resolves defaults, then the config file, then the
// environment, then flags that were set explicitly.
func loadServiceConfig(args []string, getenv func(string) string) (bridge.ServiceConfig, error) {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(args); err != nil {
		return bridge.ServiceConfig{}, err
	}
	if fs.NArg() > 0 {
		return bridge.ServiceConfig{}, fmt.Errorf("%w: unexpected arguments %v", config.ErrInvalidConfig, fs.Args())
	}

	cfg := bridge.DefaultServiceConfig()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.Load(path, cfg.Config)
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg.Config = loaded
	}
	cfg.ApplyEnv(getenv)

	if fs.Changed("device") {
		cfg.Serial.Device = strings.TrimSpace(opts.device)
	}
	if fs.Changed("baudrate") {
		cfg.Serial.BaudRate = opts.baudrate
	}
	if fs.Changed("direct-relay") {
		cfg.Pipeline.DirectRelay = opts.directRelay
	}
	if fs.Changed("base-uri") {
		cfg.Relay.BaseURI = strings.TrimSpace(opts.baseURI)
	}
	if fs.Changed("status-addr") {
		cfg.Status.ListenAddr = strings.TrimSpace(opts.statusAddr)
	}
	return cfg, nil
}
