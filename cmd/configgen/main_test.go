package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/telemlink/internal/config"
)

func TestValidateFileTemplates(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{config.KindSerialBridge, config.KindWSRelay, config.KindMonitor} {
		path := filepath.Join(dir, kind+".toml")
		if err := config.WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("%s: write: %v", kind, err)
		}
		if err := validateFile(kind, path); err != nil {
			t.Fatalf("%s: validate: %v", kind, err)
		}
	}
}

func TestValidateFileRejectsBadRelay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsrelay.toml")
	body := "[relay]\nbase_uri = \"http://not-a-websocket\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := validateFile(config.KindWSRelay, path); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
