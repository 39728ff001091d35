package main

import (
	"errors"
	"testing"

	"github.com/danmuck/telemlink/internal/config"
)

func TestLoadMonitorConfigExampleFile(t *testing.T) {
	cfg, err := loadMonitorConfig([]string{"--config", "ex.config.toml"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Multicast.Groups) != 4 || cfg.Multicast.Groups[3] != "224.3.39.34" {
		t.Fatalf("unexpected groups: %v", cfg.Multicast.Groups)
	}
	if cfg.Multicast.Port != 3931 || cfg.Multicast.SendAddr != "" {
		t.Fatalf("unexpected multicast: %+v", cfg.Multicast)
	}
	if cfg.Out == nil {
		t.Fatalf("expected stdout writer")
	}
}

func TestLoadMonitorConfigFlags(t *testing.T) {
	cfg, err := loadMonitorConfig([]string{"--group", "224.3.39.31", "--group", "224.3.39.33", "--port", "4000"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Multicast.Groups) != 2 || cfg.Multicast.Groups[1] != "224.3.39.33" {
		t.Fatalf("unexpected groups: %v", cfg.Multicast.Groups)
	}
	if cfg.Multicast.Port != 4000 {
		t.Fatalf("unexpected port: %d", cfg.Multicast.Port)
	}

	if _, err := loadMonitorConfig([]string{"--group", "10.0.0.1"}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
