package decoder

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/sample"
)

// AutoRule resolves the width of a payload decoded in auto mode.
//
// A text payload that starts with Marker followed by 10, 12 or 14 and a
// separator uses that width. Without a marker the smallest fixed width that
// holds every value is used when InferFromRange is set, and Fallback otherwise.
type AutoRule struct {
	Marker         string         `json:"marker" yaml:"marker"`
	Fallback       sample.BitMode `json:"fallback" yaml:"fallback"`
	InferFromRange bool           `json:"infer_from_range" yaml:"infer_from_range"`
}

// Config configures a Decoder.
type Config struct {
	// Channels, when non-zero, is the exact token count a text payload must carry.
	Channels int      `json:"channels" yaml:"channels"`
	Auto     AutoRule `json:"auto" yaml:"auto"`
}

// DefaultConfig accepts any token count and falls back to fourteen bits in auto mode.
func DefaultConfig() Config {
	return Config{
		Auto: AutoRule{
			Marker:   "@",
			Fallback: sample.BitModeFourteen,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Channels < 0 {
		return errors.WrapInvalid(fmt.Errorf("channels must be >= 0, got %d", c.Channels),
			"Decoder", "Validate", "check channels")
	}
	if !c.Auto.Fallback.IsFixed() {
		return errors.WrapInvalid(fmt.Errorf("auto fallback must be a fixed width, got %s", c.Auto.Fallback),
			"Decoder", "Validate", "check auto rule")
	}
	if strings.TrimSpace(c.Auto.Marker) != c.Auto.Marker {
		return errors.WrapInvalid(fmt.Errorf("auto marker %q has surrounding whitespace", c.Auto.Marker),
			"Decoder", "Validate", "check auto rule")
	}
	return nil
}

// Decoder turns raw payloads into samples. It holds no mutable state and is
// safe for concurrent use.
type Decoder struct {
	cfg Config
}

// New creates a Decoder.
func New(cfg Config) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{cfg: cfg}, nil
}

// Config returns the decoder configuration.
func (d *Decoder) Config() Config {
	return d.cfg
}

// Decode parses one payload in the given mode.
//
// An empty or whitespace-only payload yields no samples and no error. Any
// failure yields no samples: a payload is never partially decoded. Sequence
// numbers are left zero for the buffer to assign.
func (d *Decoder) Decode(p gateway.RawPayload, mode sample.BitMode) ([]sample.Sample, error) {
	if !mode.Valid() {
		return nil, errors.WrapInvalid(fmt.Errorf("unknown bit mode %d", uint8(mode)),
			"Decoder", "Decode", "check mode")
	}

	var (
		values []int64
		tokens []string
		marked sample.BitMode
	)

	if f, ok := ParseFrame(p.Data); ok {
		values = make([]int64, len(f.Values))
		for i, v := range f.Values {
			values[i] = int64(v)
		}
	} else {
		text := strings.TrimSpace(string(p.Data))
		if text == "" {
			return nil, nil
		}

		var err error
		text, marked, err = d.stripMarker(text)
		if err != nil {
			return nil, err
		}

		if strings.TrimSpace(text) == "" {
			return nil, malformed("no values")
		}
		tokens, err = splitValues(text)
		if err != nil {
			return nil, err
		}
		if d.cfg.Channels > 0 && len(tokens) != d.cfg.Channels {
			return nil, malformed(fmt.Sprintf("expected %d values, got %d", d.cfg.Channels, len(tokens)))
		}

		values = make([]int64, len(tokens))
		for i, tok := range tokens {
			v, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				if stderrors.Is(err, strconv.ErrRange) {
					return nil, outOfRange(tok, i, 0, d.widestFor(mode))
				}
				return nil, malformedToken("not an integer", tok, i)
			}
			values[i] = v
		}
	}

	width := d.resolve(mode, marked, values)
	for i, v := range values {
		if !width.Contains(v) {
			tok := ""
			if tokens != nil {
				tok = tokens[i]
			}
			return nil, outOfRange(tok, i, v, width)
		}
	}

	out := make([]sample.Sample, len(values))
	for i, v := range values {
		out[i] = sample.Sample{
			Channel: i,
			Value:   int32(v),
			Width:   width,
			Arrived: p.Arrived,
		}
	}
	return out, nil
}

// stripMarker removes a leading width marker. The marker width is returned so
// auto mode can honour it; fixed modes ignore it.
func (d *Decoder) stripMarker(text string) (string, sample.BitMode, error) {
	marker := d.cfg.Auto.Marker
	if marker == "" || !strings.HasPrefix(text, marker) {
		return text, sample.BitModeAuto, nil
	}

	rest := text[len(marker):]
	end := strings.IndexFunc(rest, isMarkerSeparator)
	head := rest
	if end >= 0 {
		head = rest[:end]
		rest = rest[end+1:]
	} else {
		rest = ""
	}

	bits, err := strconv.Atoi(head)
	if err != nil {
		return "", sample.BitModeAuto, malformedToken("bad width marker", marker+head, -1)
	}
	m, ok := sample.ModeForBits(bits)
	if !ok {
		return "", sample.BitModeAuto, malformedToken("unsupported width marker", marker+head, -1)
	}
	return rest, m, nil
}

func (d *Decoder) resolve(mode, marked sample.BitMode, values []int64) sample.BitMode {
	if mode.IsFixed() {
		return mode
	}
	if marked.IsFixed() {
		return marked
	}
	if d.cfg.Auto.InferFromRange {
		return inferWidth(values)
	}
	return d.cfg.Auto.Fallback
}

// widestFor is the width reported for a token too large for int64.
func (d *Decoder) widestFor(mode sample.BitMode) sample.BitMode {
	if mode.IsFixed() {
		return mode
	}
	return sample.BitModeFourteen
}

// inferWidth picks the smallest fixed width holding every value. When none
// does, the widest is returned and the caller's range check fails.
func inferWidth(values []int64) sample.BitMode {
	var hi int64
	for _, v := range values {
		if v > hi {
			hi = v
		}
	}
	for _, m := range sample.FixedModes {
		if hi <= m.Max() {
			return m
		}
	}
	return sample.BitModeFourteen
}

// splitValues splits on ',' and ';'. Whitespace inside a field also separates
// values, but a field with nothing in it is malformed.
func splitValues(text string) ([]string, error) {
	var tokens []string
	start := 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] != ',' && text[i] != ';' {
			continue
		}
		words := strings.Fields(text[start:i])
		if len(words) == 0 {
			return nil, malformedToken("empty value", "", len(tokens))
		}
		tokens = append(tokens, words...)
		start = i + 1
	}
	return tokens, nil
}

func isMarkerSeparator(r rune) bool {
	return r == ':' || r == ',' || unicode.IsSpace(r)
}
