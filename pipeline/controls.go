package pipeline

import (
	"github.com/Amanmahe/chords-demo/mode"
	"github.com/Amanmahe/chords-demo/sample"
)

// Controls is the operator-facing surface of the pipeline. Adapters such as
// the websocket and terminal surfaces drive it.
type Controls interface {
	SetBitMode(m sample.BitMode) error
	SetGridView(on bool)
	SetDisplayEnabled(on bool)
	// Reset discards every buffered sample immediately.
	Reset()
	Modes() mode.State
}

var _ Controls = (*Pipeline)(nil)

// SetBitMode changes the width used for payloads decoded from now on.
func (p *Pipeline) SetBitMode(m sample.BitMode) error {
	if err := p.modes.SetBitMode(m); err != nil {
		return err
	}
	p.logger.Info("Bit mode changed", "bit_mode", m.String())
	return nil
}

// SetGridView toggles the trailing-window view.
func (p *Pipeline) SetGridView(on bool) {
	p.modes.SetGridView(on)
	p.logger.Info("Grid view changed", "grid_view", on)
}

// SetDisplayEnabled pauses or resumes rendering.
func (p *Pipeline) SetDisplayEnabled(on bool) {
	p.modes.SetDisplayEnabled(on)
	p.logger.Info("Display changed", "display_enabled", on)
}

// Reset clears the sample buffer and the signal quality window.
func (p *Pipeline) Reset() {
	p.buffer.Reset()
	p.quality.reset()
	if p.metrics != nil {
		p.metrics.SignalErrorRate.Set(0)
	}
	p.logger.Info("Sample buffer reset", "generation", p.buffer.Generation())
}

// Modes returns the current mode snapshot.
func (p *Pipeline) Modes() mode.State {
	return p.modes.Snapshot()
}
