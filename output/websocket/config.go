package websocket

import (
	"fmt"
	"strings"
	"time"

	"github.com/Amanmahe/chords-demo/errors"
)

// Config holds configuration for the websocket surface
type Config struct {
	// Path the handler is mounted on
	Path string `json:"path" yaml:"path"`
	// MinInterval throttles broadcasts; ticks arriving sooner are skipped
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`
	// MaxSamples caps the samples per frame, newest kept; 0 sends the whole window
	MaxSamples   int           `json:"max_samples" yaml:"max_samples"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
	// QueueSize is the per-client backlog; a slow client loses its oldest frames
	QueueSize int `json:"queue_size" yaml:"queue_size"`
	// AllowedOrigins lists accepted Origin headers; empty accepts any
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

// DefaultConfig returns defaults for a browser dashboard at ~30 fps
func DefaultConfig() Config {
	return Config{
		Path:         "/ws",
		MinInterval:  33 * time.Millisecond,
		MaxSamples:   3000,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		QueueSize:    8,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(fmt.Errorf("path must start with /, got %q", c.Path),
			"websocket-output", "Validate", "check path")
	}
	if c.MinInterval < 0 || c.WriteTimeout < 0 || c.PingInterval < 0 {
		return errors.WrapInvalid(fmt.Errorf("durations cannot be negative"),
			"websocket-output", "Validate", "check durations")
	}
	if c.MaxSamples < 0 {
		return errors.WrapInvalid(fmt.Errorf("max_samples cannot be negative"),
			"websocket-output", "Validate", "check max_samples")
	}
	if c.QueueSize < 1 {
		return errors.WrapInvalid(fmt.Errorf("queue_size must be at least 1"),
			"websocket-output", "Validate", "check queue_size")
	}
	return nil
}
