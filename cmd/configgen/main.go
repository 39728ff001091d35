package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/telemlink/internal/config"
	"github.com/danmuck/telemlink/internal/observability"
	"github.com/spf13/pflag"
)

func main() {
	logger := observability.InitLogger("configgen")
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := fs.String("kind", config.KindWSRelay, "config kind: serialbridge|wsrelay|telemmon")
	output := fs.String("output", "", "output path for config template (defaults to cmd/<kind>/config.toml)")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", "", "config path for validation (defaults to cmd/<kind>/config.toml)")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if _, err := config.Template(*kind); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(2)
	}
	defaultPath := filepath.Join("cmd", *kind, "config.toml")

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		if err := validateFile(*kind, path); err != nil {
			fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
			os.Exit(1)
		}
		logger.Info().Str("kind", *kind).Str("path", path).Msg("configgen validated")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Str("kind", *kind).Str("path", target).Msg("configgen wrote template")
}

func validateFile(kind, path string) error {
	cfg, err := config.Load(path, config.Default())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateMulticast(); err != nil {
		return err
	}
	switch kind {
	case config.KindSerialBridge:
		if err := cfg.ValidateSerial(); err != nil {
			return err
		}
		if cfg.Pipeline.DirectRelay {
			return cfg.ValidateRelay()
		}
	case config.KindWSRelay:
		return cfg.ValidateRelay()
	}
	return nil
}
