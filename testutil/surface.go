package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Amanmahe/chords-demo/render"
)

// RecordingSurface keeps every frame it is asked to render.
// Set Err to make Render fail; set Delay to make it slow.
type RecordingSurface struct {
	mu     sync.Mutex
	frames []render.Frame
	Err    error
	Delay  time.Duration
}

// NewRecordingSurface creates an empty recording surface.
func NewRecordingSurface() *RecordingSurface {
	return &RecordingSurface{}
}

// Render records f, honoring Delay and Err.
func (s *RecordingSurface) Render(ctx context.Context, f render.Frame) error {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.frames = append(s.frames, f)
	return nil
}

// Frames returns a copy of the recorded frames.
func (s *RecordingSurface) Frames() []render.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]render.Frame(nil), s.frames...)
}

// Last returns the most recent frame.
func (s *RecordingSurface) Last() (render.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return render.Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// WaitForFrames waits until at least n frames were rendered.
func WaitForFrames(t *testing.T, s *RecordingSurface, n int, timeout time.Duration) []render.Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if frames := s.Frames(); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d frames (got %d)", n, len(s.Frames()))
	return nil
}
