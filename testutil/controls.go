package testutil

import (
	"sync/atomic"

	"github.com/Amanmahe/chords-demo/mode"
)

// FakeControls implements pipeline.Controls on a real mode.Controller and
// counts resets instead of clearing a buffer.
type FakeControls struct {
	*mode.Controller
	resets atomic.Int32
}

// NewFakeControls starts from the default mode state.
func NewFakeControls() *FakeControls {
	c, err := mode.New(mode.Default())
	if err != nil {
		panic(err)
	}
	return &FakeControls{Controller: c}
}

// Reset counts the call.
func (f *FakeControls) Reset() { f.resets.Add(1) }

// Resets returns how many times Reset was called.
func (f *FakeControls) Resets() int { return int(f.resets.Load()) }

// Modes returns the current mode snapshot.
func (f *FakeControls) Modes() mode.State { return f.Snapshot() }
