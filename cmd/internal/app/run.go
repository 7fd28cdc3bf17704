package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

// Run is the CLI entrypoint used by cmd/tunnelgate.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	cfg, err = parseFlags(cfg, args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// parseFlags applies command-line overrides on top of the env config.
func parseFlags(cfg Config, args []string) (Config, error) {
	flagSet := pflag.NewFlagSet("tunnelgate", pflag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	flagSet.StringVar(&cfg.StorageDir, "storage-dir", cfg.StorageDir, "token and session storage root")
	flagSet.StringVar(&cfg.OpsAddr, "ops-addr", cfg.OpsAddr, "operations listen address (empty disables)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or text")
	flagSet.BoolVar(&cfg.Session.TestMode, "test-mode", cfg.Session.TestMode, "allow trial and rewarded-ad connect plans")

	if err := flagSet.Parse(args); err != nil {
		return Config{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return Config{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
