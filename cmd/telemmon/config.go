package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/telemlink/internal/config"
	"github.com/danmuck/telemlink/internal/monitor"
	"github.com/spf13/pflag"
)

func loadMonitorConfig(args []string) (monitor.Config, error) {
	var (
		configPath string
		iface      string
		port       int
		groups     []string
	)
	fs := pflag.NewFlagSet("telemmon", pflag.ContinueOnError)
	fs.StringVarP(&configPath, "config", "c", "", "TOML config file")
	fs.StringVar(&iface, "interface", "", "multicast interface name or address")
	fs.IntVar(&port, "port", 3931, "UDP port")
	fs.StringSliceVar(&groups, "group", nil, "multicast group to join (repeatable)")
	if err := fs.Parse(args); err != nil {
		return monitor.Config{}, err
	}
	if fs.NArg() > 0 {
		return monitor.Config{}, fmt.Errorf("%w: unexpected arguments %v", config.ErrInvalidConfig, fs.Args())
	}

	mc := monitor.DefaultConfig()
	base := config.Default()
	base.Multicast = mc.Multicast
	if path := strings.TrimSpace(configPath); path != "" {
		loaded, err := config.Load(path, base)
		if err != nil {
			return monitor.Config{}, err
		}
		base = loaded
	}
	if fs.Changed("interface") {
		base.Multicast.InterfaceAddr = strings.TrimSpace(iface)
	}
	if fs.Changed("port") {
		base.Multicast.Port = port
	}
	if fs.Changed("group") {
		base.Multicast.Groups = groups
	}
	// The monitor only listens.
	base.Multicast.SendAddr = ""
	if err := base.ValidateMulticast(); err != nil {
		return monitor.Config{}, err
	}
	mc.Multicast = base.Multicast
	return mc, nil
}
