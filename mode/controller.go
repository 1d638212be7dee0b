package mode

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/sample"
)

// State is one immutable snapshot of the operator-selected modes.
// Version increases by one with every change.
type State struct {
	BitMode        sample.BitMode `json:"bit_mode"`
	GridView       bool           `json:"grid_view"`
	DisplayEnabled bool           `json:"display_enabled"`
	Version        uint64         `json:"version"`
}

// Default is the startup state: auto width, grid view on, display on.
func Default() State {
	return State{BitMode: sample.BitModeAuto, GridView: true, DisplayEnabled: true}
}

// Controller publishes State snapshots. Readers never block: Snapshot is a
// single atomic load, so a decode call sees either the old or the new state
// in full. Writers are serialized.
type Controller struct {
	current atomic.Pointer[State]

	mu       sync.Mutex
	watchers map[int]chan State
	nextID   int
}

// New creates a Controller starting at initial. The initial version is kept.
func New(initial State) (*Controller, error) {
	if !initial.BitMode.Valid() {
		return nil, errors.WrapInvalid(fmt.Errorf("unknown bit mode %d", uint8(initial.BitMode)),
			"ModeController", "New", "check initial state")
	}
	c := &Controller{watchers: make(map[int]chan State)}
	s := initial
	c.current.Store(&s)
	return c, nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	return *c.current.Load()
}

// BitMode returns the current bit mode.
func (c *Controller) BitMode() sample.BitMode {
	return c.current.Load().BitMode
}

// SetBitMode selects the width for payloads decoded from now on. Samples
// already buffered are unaffected.
func (c *Controller) SetBitMode(m sample.BitMode) error {
	if !m.Valid() {
		return errors.WrapInvalid(fmt.Errorf("unknown bit mode %d", uint8(m)),
			"ModeController", "SetBitMode", "check mode")
	}
	c.update(func(s *State) bool {
		if s.BitMode == m {
			return false
		}
		s.BitMode = m
		return true
	})
	return nil
}

// SetGridView toggles the trailing-window view.
func (c *Controller) SetGridView(on bool) {
	c.update(func(s *State) bool {
		if s.GridView == on {
			return false
		}
		s.GridView = on
		return true
	})
}

// SetDisplayEnabled pauses or resumes rendering. Ingestion is unaffected.
func (c *Controller) SetDisplayEnabled(on bool) {
	c.update(func(s *State) bool {
		if s.DisplayEnabled == on {
			return false
		}
		s.DisplayEnabled = on
		return true
	})
}

// Watch returns a channel that always holds the most recent state. The
// current state is delivered immediately. Slow readers miss intermediate
// states, never the latest one. Call cancel to stop watching.
func (c *Controller) Watch() (updates <-chan State, cancel func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	ch <- c.Snapshot()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) update(apply func(*State) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := *c.current.Load()
	if !apply(&next) {
		return
	}
	next.Version++
	c.current.Store(&next)

	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}
