package nats

import (
	"fmt"
	"time"

	"github.com/Amanmahe/chords-demo/errors"
)

// Config holds configuration for the NATS gateway
type Config struct {
	URL string `json:"url" yaml:"url"`
	// Subject carries one payload per message
	Subject string `json:"subject" yaml:"subject"`
	// Stream, when set, replays a recorded JetStream stream from the start
	// instead of subscribing to live traffic.
	Stream string `json:"stream,omitempty" yaml:"stream,omitempty"`
	// Paced replays a stream with the gaps between the original messages.
	Paced          bool          `json:"paced,omitempty" yaml:"paced,omitempty"`
	ClientName     string        `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// DefaultConfig returns defaults for a local NATS server
func DefaultConfig() Config {
	return Config{
		URL:            "nats://127.0.0.1:4222",
		Subject:        "chords.raw",
		ClientName:     "chords",
		ConnectTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(fmt.Errorf("url is required"), "nats-input", "Validate", "check url")
	}
	if c.Subject == "" && c.Stream == "" {
		return errors.WrapInvalid(fmt.Errorf("subject or stream is required"),
			"nats-input", "Validate", "check subject")
	}
	if c.Paced && c.Stream == "" {
		return errors.WrapInvalid(fmt.Errorf("paced replay needs a stream"),
			"nats-input", "Validate", "check paced")
	}
	if c.ConnectTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("connect timeout cannot be negative"),
			"nats-input", "Validate", "check timeout")
	}
	return nil
}
