package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanmahe/chords-demo/render"
	"github.com/Amanmahe/chords-demo/sample"
	chordstest "github.com/Amanmahe/chords-demo/testutil"
)

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testFrame() render.Frame {
	var w sample.Window
	for k := 0; k < 8; k++ {
		w.Samples = append(w.Samples,
			sample.Sample{Seq: uint64(2 * k), Channel: 0, Value: int32(k * 100), Width: sample.BitModeTen},
			sample.Sample{Seq: uint64(2*k + 1), Channel: 1, Value: 1023, Width: sample.BitModeTen})
	}
	return render.Frame{Window: w, Signal: &sample.Signal{Connection: "connected", Payloads: 8}}
}

func TestModel_KeysDriveControls(t *testing.T) {
	controls := chordstest.NewFakeControls()
	m := newModel(controls, func() (render.Frame, bool) { return render.Frame{}, false }, time.Millisecond)

	m.Update(key("g"))
	assert.False(t, controls.Modes().GridView)
	m.Update(key("g"))
	assert.True(t, controls.Modes().GridView)

	m.Update(key("d"))
	assert.False(t, controls.Modes().DisplayEnabled)

	m.Update(key("b"))
	assert.Equal(t, sample.BitModeTen, controls.Modes().BitMode)
	m.Update(key("b"))
	m.Update(key("b"))
	m.Update(key("b"))
	assert.Equal(t, sample.BitModeAuto, controls.Modes().BitMode)

	m.Update(key("r"))
	assert.Equal(t, 1, controls.Resets())
	assert.Equal(t, "buffer cleared", m.notice)

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_TickPullsLatestFrame(t *testing.T) {
	controls := chordstest.NewFakeControls()
	f := testFrame()
	m := newModel(controls, func() (render.Frame, bool) { return f, true }, time.Millisecond)

	assert.Contains(t, m.View(), "waiting for samples")
	_, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	assert.True(t, m.hasFrame)

	view := m.View()
	assert.Contains(t, view, "ch0")
	assert.Contains(t, view, "ch1")
	assert.Contains(t, view, "1023")
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "█")
}

func TestModel_PausedDisplay(t *testing.T) {
	controls := chordstest.NewFakeControls()
	controls.SetDisplayEnabled(false)
	m := newModel(controls, func() (render.Frame, bool) { return testFrame(), true }, time.Millisecond)
	m.Update(tickMsg(time.Now()))
	assert.Contains(t, m.View(), "display paused")
}

func TestModel_WindowSizeLimitsSparkline(t *testing.T) {
	var w sample.Window
	for k := 0; k < 100; k++ {
		w.Samples = append(w.Samples, sample.Sample{Seq: uint64(k), Value: 512, Width: sample.BitModeTen})
	}
	controls := chordstest.NewFakeControls()
	m := newModel(controls, func() (render.Frame, bool) { return render.Frame{Window: w}, true }, time.Millisecond)
	m.Update(tea.WindowSizeMsg{Width: 24, Height: 10})
	m.Update(tickMsg(time.Now()))
	for _, line := range strings.Split(m.body(true), "\n") {
		assert.Equal(t, 10, strings.Count(line, "▄"))
	}
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "▁▁█", sparkline([]int32{0, -5, 1023}, 1023))
	assert.Equal(t, "█", sparkline([]int32{20000}, 16383))
}

func TestOutput_RenderStoresFrame(t *testing.T) {
	out, err := NewOutput(DefaultConfig(), chordstest.NewFakeControls(), nil)
	require.NoError(t, err)

	_, ok := out.latestFrame()
	assert.False(t, ok)
	require.NoError(t, out.Render(context.Background(), testFrame()))
	f, ok := out.latestFrame()
	require.True(t, ok)
	assert.Equal(t, 16, f.Window.Len())
}

func TestNewOutput_Validation(t *testing.T) {
	_, err := NewOutput(Config{}, chordstest.NewFakeControls(), nil)
	assert.Error(t, err)
	_, err = NewOutput(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestOutput_RunQuitsOnKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AltScreen = false
	out, err := NewOutput(cfg, chordstest.NewFakeControls(), nil)
	require.NoError(t, err)
	out.input = strings.NewReader("q")
	out.output = &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, out.Run(ctx))
}
