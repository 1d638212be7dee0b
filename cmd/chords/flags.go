package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	LogFile         string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config", getEnv("CHORDS_CONFIG", ""),
		"Path to a JSON or YAML configuration file; defaults apply when empty (env: CHORDS_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", getEnv("CHORDS_CONFIG", ""),
		"Path to configuration file (env: CHORDS_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("CHORDS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: CHORDS_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("CHORDS_LOG_FORMAT", "text"),
		"Log format: json, text (env: CHORDS_LOG_FORMAT)")

	fs.StringVar(&cfg.LogFile, "log-file", getEnv("CHORDS_LOG_FILE", ""),
		"Write logs to this file instead of stderr (env: CHORDS_LOG_FILE)")

	fs.BoolVar(&cfg.Debug, "debug", getEnvBool("CHORDS_DEBUG", false),
		"Enable debug mode (env: CHORDS_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("CHORDS_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: CHORDS_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - serial biosignal stream viewer

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Auto-detect a board on the serial bus with default settings
  %[1]s

  # Run with a config file and debug logging
  %[1]s --config=chords.yaml --log-level=debug

  # Override settings from the environment
  export CHORDS_SOURCE_TYPE=serial
  export CHORDS_SERIAL_PORT=/dev/ttyACM0
  export CHORDS_BIT_MODE=12
  %[1]s

  # Validate configuration only
  %[1]s --config=chords.yaml --validate

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
