// Command pushtalk is a push-to-talk dictation daemon: hold the hotkey,
// speak, release, and the transcript is typed into the focused window.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"pushtalk/internal/config"
	pushlog "pushtalk/internal/log"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		pushlog.Configure(pushlog.Config{})
		logger := pushlog.WithComponent("daemon")
		logger.Fatal().Err(err).Str("event", "config.load_failed").Str("config_path", *configPath).Msg("failed to load configuration")
	}

	output, closeLog, err := logOutput(cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pushtalk: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	pushlog.Configure(pushlog.Config{Level: cfg.Log.Level, Output: output})
	logger := pushlog.WithComponent("daemon")
	logger.Info().
		Str("event", "config.loaded").
		Str("path", cfg.Path).
		Str("provider", string(cfg.Provider.Requested)).
		Str("version", version).
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewApp().Run(ctx, *configPath, &cfg); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("pushtalk stopped with an error")
		stop()
		closeLog()
		os.Exit(1)
	}
	logger.Info().Str("event", "daemon.stopped").Msg("pushtalk stopped")
}

// logOutput opens the configured log file in append mode, or stdout when
// none is set.
func logOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
