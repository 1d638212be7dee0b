// Package main implements the chords command: it reads a biosignal board
// over serial (or a network or replay source), decodes its sample stream and
// renders it on the configured surfaces.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Amanmahe/chords-demo/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "chords"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		fmt.Println("Configuration is valid")
		return nil
	}

	logOut, closeLog, err := logOutput(cliCfg, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat, logOut)
	slog.SetDefault(logger)
	logger.Info("Starting chords",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"source", cfg.Source.Type)

	a, err := newApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("assemble pipeline: %w", err)
	}

	return runWithSignalHandling(context.Background(), a, cliCfg)
}

// initializeCLI parses and validates flags
func initializeCLI(args []string) (*CLIConfig, bool, error) {
	cliCfg, err := parseFlags(args, os.Stderr)
	if err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}
	if cliCfg.ShowHelp {
		return nil, true, nil
	}
	return cliCfg, false, nil
}

// initializeConfiguration layers the optional config file and CHORDS_* env
// overrides over the defaults, then validates the result
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// logOutput picks the log destination. The terminal surface owns the screen,
// so without a log file its logs are discarded.
func logOutput(cliCfg *CLIConfig, cfg *config.Config) (io.Writer, func(), error) {
	if cliCfg.LogFile != "" {
		f, err := os.OpenFile(cliCfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	}
	if cfg.Surfaces.Terminal.Enabled {
		return io.Discard, func() {}, nil
	}
	return os.Stderr, func() {}, nil
}

// runWithSignalHandling starts the app and stops it on SIGINT, SIGTERM or
// when the terminal surface quits
func runWithSignalHandling(ctx context.Context, a *app, cliCfg *CLIConfig) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := a.Start(signalCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	a.logger.Info("chords started")

	select {
	case <-signalCtx.Done():
		a.logger.Info("Received shutdown signal")
	case err := <-a.Done():
		if err != nil {
			a.logger.Error("Component failed", "error", err)
		} else {
			a.logger.Info("Terminal closed")
		}
	}

	if err := a.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	a.logger.Info("chords shutdown complete")
	return nil
}
