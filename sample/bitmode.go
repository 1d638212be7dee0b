package sample

import (
	"fmt"
	"strings"

	"github.com/Amanmahe/chords-demo/errors"
)

// BitMode selects the numeric width applied when decoding payloads.
// The zero value is BitModeAuto.
type BitMode uint8

const (
	BitModeAuto BitMode = iota
	BitModeTen
	BitModeTwelve
	BitModeFourteen
)

// FixedModes lists the fixed widths in ascending order.
var FixedModes = []BitMode{BitModeTen, BitModeTwelve, BitModeFourteen}

// Bits returns the width in bits, or 0 for auto.
func (m BitMode) Bits() int {
	switch m {
	case BitModeTen:
		return 10
	case BitModeTwelve:
		return 12
	case BitModeFourteen:
		return 14
	default:
		return 0
	}
}

// Max returns the largest value representable in the width (2^bits - 1).
// Auto has no range and returns -1.
func (m BitMode) Max() int64 {
	if !m.IsFixed() {
		return -1
	}
	return int64(1)<<m.Bits() - 1
}

// Contains reports whether v lies in [0, Max()].
func (m BitMode) Contains(v int64) bool {
	return m.IsFixed() && v >= 0 && v <= m.Max()
}

// IsFixed reports whether the mode names a concrete width.
func (m BitMode) IsFixed() bool {
	return m >= BitModeTen && m <= BitModeFourteen
}

// Valid reports whether m is one of the four known modes.
func (m BitMode) Valid() bool {
	return m <= BitModeFourteen
}

func (m BitMode) String() string {
	switch m {
	case BitModeAuto:
		return "auto"
	case BitModeTen:
		return "ten"
	case BitModeTwelve:
		return "twelve"
	case BitModeFourteen:
		return "fourteen"
	default:
		return fmt.Sprintf("BitMode(%d)", uint8(m))
	}
}

// ParseBitMode accepts the mode names and the numeric widths ("10", "12", "14").
func ParseBitMode(s string) (BitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return BitModeAuto, nil
	case "ten", "10":
		return BitModeTen, nil
	case "twelve", "12":
		return BitModeTwelve, nil
	case "fourteen", "14":
		return BitModeFourteen, nil
	}
	return BitModeAuto, errors.WrapInvalid(
		fmt.Errorf("unknown bit mode %q", s), "sample", "ParseBitMode", "parse mode")
}

// ModeForBits returns the fixed mode with the given width.
func ModeForBits(bits int) (BitMode, bool) {
	for _, m := range FixedModes {
		if m.Bits() == bits {
			return m, true
		}
	}
	return BitModeAuto, false
}

// Next cycles auto → ten → twelve → fourteen → auto.
func (m BitMode) Next() BitMode {
	if m >= BitModeFourteen {
		return BitModeAuto
	}
	return m + 1
}

// MarshalText implements encoding.TextMarshaler.
func (m BitMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid bit mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *BitMode) UnmarshalText(b []byte) error {
	v, err := ParseBitMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
