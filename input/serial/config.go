package serial

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/Amanmahe/chords-demo/errors"
)

// Framing selects how the byte stream is split into payloads.
type Framing string

const (
	FramingBinary Framing = "binary"
	FramingLine   Framing = "line"
)

// Config holds serial gateway settings.
type Config struct {
	// Port is the device path. Empty means probe Candidates for Identity.
	Port       string   `json:"port" yaml:"port"`
	Candidates []string `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	BaudRate   int      `json:"baud_rate" yaml:"baud_rate"`
	Framing    Framing  `json:"framing" yaml:"framing"`

	Probe            string        `json:"probe" yaml:"probe"`
	Identity         string        `json:"identity" yaml:"identity"`
	StartCommand     string        `json:"start_command" yaml:"start_command"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`

	// IdleTimeout drops the connection when no bytes arrive for this long. Zero disables it.
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	Reconnect   bool          `json:"reconnect" yaml:"reconnect"`
}

// DefaultConfig matches the acquisition firmware: 115200 baud, binary
// frames, WHORU/UNO-R4 identification and START to begin streaming.
func DefaultConfig() Config {
	return Config{
		BaudRate:         115200,
		Framing:          FramingBinary,
		Probe:            "WHORU\n",
		Identity:         "UNO-R4",
		StartCommand:     "START\r\n",
		HandshakeTimeout: 2 * time.Second,
		IdleTimeout:      5 * time.Second,
		Reconnect:        true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.BaudRate <= 0:
		return errors.WrapInvalid(fmt.Errorf("baud rate must be positive, got %d", c.BaudRate),
			"SerialInput", "Validate", "check baud rate")
	case c.Framing != FramingBinary && c.Framing != FramingLine:
		return errors.WrapInvalid(fmt.Errorf("unknown framing %q", c.Framing),
			"SerialInput", "Validate", "check framing")
	case c.Port == "" && strings.TrimSpace(c.Identity) == "":
		return errors.WrapInvalid(fmt.Errorf("identity is required when no port is set"),
			"SerialInput", "Validate", "check identity")
	case c.Port == "" && c.HandshakeTimeout <= 0:
		return errors.WrapInvalid(fmt.Errorf("handshake timeout must be positive, got %s", c.HandshakeTimeout),
			"SerialInput", "Validate", "check handshake timeout")
	case c.IdleTimeout < 0:
		return errors.WrapInvalid(fmt.Errorf("idle timeout cannot be negative, got %s", c.IdleTimeout),
			"SerialInput", "Validate", "check idle timeout")
	}
	return nil
}

// candidates returns the probe patterns for the current platform.
func (c Config) candidates() []string {
	if len(c.Candidates) > 0 {
		return c.Candidates
	}
	switch runtime.GOOS {
	case "windows":
		ports := make([]string, 0, 32)
		for i := 1; i <= 32; i++ {
			ports = append(ports, fmt.Sprintf("COM%d", i))
		}
		return ports
	case "darwin":
		return []string{"/dev/cu.usbmodem*", "/dev/cu.usbserial*"}
	default:
		return []string{"/dev/ttyACM*", "/dev/ttyUSB*"}
	}
}
