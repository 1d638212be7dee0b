package render

import (
	"context"
	"time"

	"github.com/Amanmahe/chords-demo/mode"
	"github.com/Amanmahe/chords-demo/sample"
)

// Frame is everything a surface needs to draw one tick.
type Frame struct {
	Window    sample.Window  `json:"window"`
	GridView  bool           `json:"grid_view"`
	BitMode   sample.BitMode `json:"bit_mode"`
	Tick      uint64         `json:"tick"`
	Timestamp time.Time      `json:"timestamp"`
	Signal    *sample.Signal `json:"signal,omitempty"`
}

// Surface draws frames. Render is called from the scheduler goroutine once
// per tick while the display is enabled; an error skips that tick only.
type Surface interface {
	Render(ctx context.Context, f Frame) error
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(ctx context.Context, f Frame) error

// Render calls fn(ctx, f).
func (fn SurfaceFunc) Render(ctx context.Context, f Frame) error { return fn(ctx, f) }

// Source is the read side of the sample buffer.
type Source interface {
	Latest(n int) sample.Window
	All() sample.Window
}

// ModeSource supplies the display flags per tick.
type ModeSource interface {
	Snapshot() mode.State
}

// SignalSource optionally annotates frames with ingestion quality.
type SignalSource interface {
	Signal() sample.Signal
}
