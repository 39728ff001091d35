package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/telemlink/internal/config"
	"github.com/danmuck/telemlink/internal/gateway"
	"github.com/spf13/pflag"
)

type options struct {
	configPath    string
	baseURI       string
	bucketDivisor int
	dropBadCRC    bool
	statusAddr    string
	interfaceAddr string
}

func newFlagSet(opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("wsrelay", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	fs.StringVar(&opts.baseURI, "base-uri", "", "relay base URI (overrides "+config.EnvRelayBaseURI+")")
	fs.IntVar(&opts.bucketDivisor, "bucket-divisor", 100, "downsampling divisor; a frame of length L passes once every L/divisor frames")
	fs.BoolVar(&opts.dropBadCRC, "drop-invalid-crc", false, "drop frames containing messages with a bad crc")
	fs.StringVar(&opts.statusAddr, "status-addr", "", "status HTTP listen address")
	fs.StringVar(&opts.interfaceAddr, "interface", "", "multicast interface name or address")
	return fs
}

// loadServiceConfig resolves defaults, then the config file, then the
// environment, then flags that were set explicitly.
func loadServiceConfig(args []string, getenv func(string) string) (gateway.ServiceConfig, error) {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(args); err != nil {
		return gateway.ServiceConfig{}, err
	}
	if fs.NArg() > 0 {
		return gateway.ServiceConfig{}, fmt.Errorf("%w: unexpected arguments %v", config.ErrInvalidConfig, fs.Args())
	}

	cfg := gateway.DefaultServiceConfig()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.Load(path, cfg.Config)
		if err != nil {
			return gateway.ServiceConfig{}, err
		}
		cfg.Config = loaded
	}
	cfg.ApplyEnv(getenv)

	if fs.Changed("base-uri") {
		cfg.Relay.BaseURI = strings.TrimSpace(opts.baseURI)
	}
	if fs.Changed("bucket-divisor") {
		cfg.Pipeline.BucketDivisor = opts.bucketDivisor
	}
	if fs.Changed("drop-invalid-crc") {
		cfg.Pipeline.DropInvalidCRC = opts.dropBadCRC
	}
	if fs.Changed("status-addr") {
		cfg.Status.ListenAddr = strings.TrimSpace(opts.statusAddr)
	}
	if fs.Changed("interface") {
		cfg.Multicast.InterfaceAddr = strings.TrimSpace(opts.interfaceAddr)
	}
	return cfg, nil
}
