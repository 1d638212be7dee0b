package websocket

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/pkg/retry"
	"github.com/Amanmahe/chords-demo/pkg/tlsutil"
)

// ReconnectConfig configures reconnection after the device drops the socket
type ReconnectConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"` // 0 = unlimited
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier"`
}

// backoff expresses the reconnect schedule as a retry.Config
func (r ReconnectConfig) backoff() retry.Config {
	return retry.Config{
		InitialDelay: r.InitialInterval,
		MaxDelay:     r.MaxInterval,
		Multiplier:   r.Multiplier,
	}
}

// Config holds configuration for the websocket gateway
type Config struct {
	// URL of the device or bridge streaming samples, ws:// or wss://
	URL              string          `json:"url" yaml:"url"`
	HandshakeTimeout time.Duration   `json:"handshake_timeout" yaml:"handshake_timeout"`
	BearerTokenEnv   string          `json:"bearer_token_env,omitempty" yaml:"bearer_token_env,omitempty"`
	Reconnect        ReconnectConfig `json:"reconnect" yaml:"reconnect"`
	// ReadLimit caps a single message in bytes
	ReadLimit int64 `json:"read_limit" yaml:"read_limit"`
	// TLS applies to wss:// URLs
	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls"`
}

// DefaultConfig returns defaults matching the WiFi boards' stream endpoint
func DefaultConfig() Config {
	return Config{
		URL:              "ws://multi-emg.local:81",
		HandshakeTimeout: 10 * time.Second,
		ReadLimit:        1 << 20,
		Reconnect: ReconnectConfig{
			Enabled:         true,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Multiplier:      2.0,
		},
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "websocket-input", "Validate", "parse url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.WrapInvalid(fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme),
			"websocket-input", "Validate", "check url")
	}
	if c.Reconnect.Enabled && c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		return errors.WrapInvalid(fmt.Errorf("reconnect max_interval must be >= initial_interval"),
			"websocket-input", "Validate", "check reconnect")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if c.ReadLimit < 0 {
		return errors.WrapInvalid(fmt.Errorf("read limit cannot be negative"),
			"websocket-input", "Validate", "check read limit")
	}
	return nil
}
