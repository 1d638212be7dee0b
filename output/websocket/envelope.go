package websocket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Amanmahe/chords-demo/render"
	"github.com/Amanmahe/chords-demo/sample"
)

// Envelope types.
const (
	TypeFrame   = "frame"
	TypeState   = "state"
	TypeControl = "control"
	TypeAck     = "ack"
	TypeError   = "error"
)

// Control actions accepted in a control envelope.
const (
	ActionSetBitMode = "set_bit_mode"
	ActionSetGrid    = "set_grid_view"
	ActionSetDisplay = "set_display"
	ActionReset      = "reset"
)

// MessageEnvelope wraps every message in both directions.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ControlPayload is the payload of an inbound control envelope. Value is a
// bit mode name or width for set_bit_mode, and a boolean for the toggles.
type ControlPayload struct {
	Action string          `json:"action"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// FramePayload is the payload of a frame envelope. Channels maps the channel
// number to its values in arrival order.
type FramePayload struct {
	Tick       uint64             `json:"tick"`
	Timestamp  time.Time          `json:"timestamp"`
	GridView   bool               `json:"grid_view"`
	BitMode    sample.BitMode     `json:"bit_mode"`
	Width      sample.BitMode     `json:"width"`
	Generation uint64             `json:"generation"`
	Start      uint64             `json:"start"`
	End        uint64             `json:"end"`
	Truncated  bool               `json:"truncated"`
	Channels   map[string][]int32 `json:"channels"`
	Signal     *sample.Signal     `json:"signal,omitempty"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
}

func newFramePayload(f render.Frame, maxSamples int) FramePayload {
	w := f.Window
	if maxSamples > 0 && len(w.Samples) > maxSamples {
		drop := len(w.Samples) - maxSamples
		w.Samples = w.Samples[drop:]
		w.Start = w.Samples[0].Seq
		w.Truncated = true
	}

	channels := make(map[string][]int32)
	for ch, values := range w.Series() {
		channels[strconv.Itoa(ch)] = values
	}
	return FramePayload{
		Tick:       f.Tick,
		Timestamp:  f.Timestamp,
		GridView:   f.GridView,
		BitMode:    f.BitMode,
		Width:      w.Width(),
		Generation: w.Generation,
		Start:      w.Start,
		End:        w.End,
		Truncated:  w.Truncated,
		Channels:   channels,
		Signal:     f.Signal,
	}
}

func (c ControlPayload) boolValue() (bool, error) {
	var v bool
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return false, fmt.Errorf("%s needs a boolean value", c.Action)
	}
	return v, nil
}

func (c ControlPayload) bitModeValue() (sample.BitMode, error) {
	var s string
	if err := json.Unmarshal(c.Value, &s); err != nil {
		var n int
		if err := json.Unmarshal(c.Value, &n); err != nil {
			return 0, fmt.Errorf("%s needs a mode name or width", c.Action)
		}
		s = strconv.Itoa(n)
	}
	return sample.ParseBitMode(s)
}
