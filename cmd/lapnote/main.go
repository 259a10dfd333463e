package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"lapnote/internal/cli"
	"lapnote/internal/config"
	"lapnote/internal/output"
)

func main() {
	if err := run(); err != nil {
		output.NewFormatter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := &cli.Dependencies{
		Config: &cfg,
		Logger: logger,
	}
	return cli.NewRootCmd(deps).ExecuteContext(ctx)
}

// newLogger writes to the configured log file so output never lands on
// the TUI. Logging is discarded when the file cannot be opened.
func newLogger(cfg config.Config) (*slog.Logger, func()) {
	var w io.Writer = io.Discard
	closer := func() {}

	if path := cfg.Paths.LogFile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
				w = file
				closer = func() { _ = file.Close() }
			}
		}
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)})
	return slog.New(handler).With("pid", os.Getpid()), closer
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
