package nats

import (
	"fmt"
	"strings"

	"github.com/Amanmahe/chords-demo/errors"
)

// Format selects how new samples are encoded on the subject.
type Format string

const (
	// FormatJSON publishes one SampleBatch document per tick.
	FormatJSON Format = "json"
	// FormatLines publishes one text payload per decoded row, prefixed with
	// the width marker, so a recorded stream replays through the decoder.
	FormatLines Format = "lines"
)

// Config holds configuration for the NATS surface
type Config struct {
	Subject string `json:"subject" yaml:"subject"`
	// Stream, when set, is created if missing and every publish waits for a
	// JetStream acknowledgement so the session can be replayed later.
	Stream string `json:"stream,omitempty" yaml:"stream,omitempty"`
	Format Format `json:"format" yaml:"format"`
	Marker string `json:"marker" yaml:"marker"`
}

// DefaultConfig publishes JSON batches on chords.session.live without recording
func DefaultConfig() Config {
	return Config{
		Subject: "chords.session.live",
		Format:  FormatJSON,
		Marker:  "@",
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Subject == "" || strings.ContainsAny(c.Subject, "*> ") {
		return errors.WrapInvalid(fmt.Errorf("subject %q must be a literal subject", c.Subject),
			"nats-output", "Validate", "check subject")
	}
	switch c.Format {
	case FormatJSON:
	case FormatLines:
		if c.Marker == "" {
			return errors.WrapInvalid(fmt.Errorf("lines format needs a marker"),
				"nats-output", "Validate", "check marker")
		}
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown format %q", c.Format),
			"nats-output", "Validate", "check format")
	}
	return nil
}
