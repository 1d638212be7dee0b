package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/mode"
	"github.com/Amanmahe/chords-demo/render"
	"github.com/Amanmahe/chords-demo/sample"
	chordstest "github.com/Amanmahe/chords-demo/testutil"
)

func testFrame(tick uint64, end uint64, values ...int32) render.Frame {
	w := sample.Window{Generation: 1, End: end}
	start := end - uint64(len(values))
	w.Start = start
	for k, v := range values {
		w.Samples = append(w.Samples, sample.Sample{
			Seq: start + uint64(k), Channel: k % 2, Value: v, Width: sample.BitModeTwelve,
		})
	}
	return render.Frame{Window: w, GridView: true, BitMode: sample.BitModeAuto, Tick: tick, Timestamp: time.Now()}
}

type fixture struct {
	out      *Output
	controls *chordstest.FakeControls
	srv      *httptest.Server
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MinInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	controls := chordstest.NewFakeControls()
	out, err := NewOutput(OutputDeps{Config: cfg, Controls: controls, MetricsRegistry: metric.NewMetricsRegistry()})
	require.NoError(t, err)

	srv := httptest.NewServer(out.Handler())
	t.Cleanup(func() {
		_ = out.Close(time.Second)
		srv.Close()
	})
	return &fixture{out: out, controls: controls, srv: srv}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// the connect-time state envelope
	env := readEnvelope(t, conn)
	require.Equal(t, TypeState, env.Type)
	require.Eventually(t, func() bool { return f.out.ClientCount() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) MessageEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env MessageEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func sendControl(t *testing.T, conn *websocket.Conn, id, action string, value any) {
	t.Helper()
	payload := map[string]any{"action": action}
	if value != nil {
		payload["value"] = value
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(MessageEnvelope{Type: TypeControl, ID: id, Payload: raw}))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"relative path", func(c *Config) { c.Path = "ws" }, true},
		{"negative interval", func(c *Config) { c.MinInterval = -1 }, true},
		{"negative max samples", func(c *Config) { c.MaxSamples = -1 }, true},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestOutput_BroadcastsFrames(t *testing.T) {
	f := newFixture(t, nil)
	a := f.dial(t)
	b := f.dial(t)

	require.NoError(t, f.out.Render(context.Background(), testFrame(1, 4, 10, 20, 30, 40)))

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		require.Equal(t, TypeFrame, env.Type)

		var p FramePayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, uint64(1), p.Tick)
		assert.True(t, p.GridView)
		assert.Equal(t, sample.BitModeTwelve, p.Width)
		assert.Equal(t, []int32{10, 30}, p.Channels["0"])
		assert.Equal(t, []int32{20, 40}, p.Channels["1"])
		assert.Equal(t, uint64(0), p.Start)
		assert.Equal(t, uint64(4), p.End)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(f.out.metrics.messagesSent.WithLabelValues(TypeFrame)))
}

func TestOutput_SkipsUnchangedFrames(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	require.NoError(t, f.out.Render(context.Background(), testFrame(1, 2, 1, 2)))
	require.NoError(t, f.out.Render(context.Background(), testFrame(2, 2, 1, 2)))
	require.NoError(t, f.out.Render(context.Background(), testFrame(3, 3, 1, 2, 3)))

	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)
	var p1, p2 FramePayload
	require.NoError(t, json.Unmarshal(first.Payload, &p1))
	require.NoError(t, json.Unmarshal(second.Payload, &p2))
	assert.Equal(t, uint64(1), p1.Tick)
	assert.Equal(t, uint64(3), p2.Tick)
	assert.Equal(t, int64(1), f.out.framesSkip.Load())
}

func TestOutput_MinIntervalThrottles(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MinInterval = time.Hour })
	_ = f.dial(t)

	require.NoError(t, f.out.Render(context.Background(), testFrame(1, 1, 1)))
	require.NoError(t, f.out.Render(context.Background(), testFrame(2, 2, 1, 2)))
	assert.Equal(t, int64(1), f.out.framesSent.Load())
	assert.Equal(t, int64(1), f.out.framesSkip.Load())
}

func TestOutput_MaxSamplesKeepsNewest(t *testing.T) {
	p := newFramePayload(testFrame(1, 6, 1, 2, 3, 4, 5, 6), 2)
	assert.True(t, p.Truncated)
	assert.Equal(t, uint64(4), p.Start)
	assert.Equal(t, []int32{5}, p.Channels["0"])
	assert.Equal(t, []int32{6}, p.Channels["1"])
}

func TestOutput_NoClientsIsNotAnError(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.out.Render(context.Background(), testFrame(1, 1, 1)))
	assert.Equal(t, int64(0), f.out.framesSent.Load())
}

func TestOutput_Controls(t *testing.T) {
	tests := []struct {
		name   string
		action string
		value  any
		check  func(t *testing.T, c *chordstest.FakeControls, st mode.State)
	}{
		{"bit mode by name", ActionSetBitMode, "fourteen", func(t *testing.T, _ *chordstest.FakeControls, st mode.State) {
			assert.Equal(t, sample.BitModeFourteen, st.BitMode)
		}},
		{"bit mode by width", ActionSetBitMode, 10, func(t *testing.T, _ *chordstest.FakeControls, st mode.State) {
			assert.Equal(t, sample.BitModeTen, st.BitMode)
		}},
		{"grid off", ActionSetGrid, false, func(t *testing.T, _ *chordstest.FakeControls, st mode.State) {
			assert.False(t, st.GridView)
		}},
		{"display off", ActionSetDisplay, false, func(t *testing.T, _ *chordstest.FakeControls, st mode.State) {
			assert.False(t, st.DisplayEnabled)
		}},
		{"reset", ActionReset, nil, func(t *testing.T, c *chordstest.FakeControls, _ mode.State) {
			assert.Equal(t, 1, c.Resets())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			conn := f.dial(t)

			sendControl(t, conn, "c1", tt.action, tt.value)

			ack := readEnvelope(t, conn)
			assert.Equal(t, TypeAck, ack.Type)
			assert.Equal(t, "c1", ack.ID)

			stateEnv := readEnvelope(t, conn)
			require.Equal(t, TypeState, stateEnv.Type)
			var st mode.State
			require.NoError(t, json.Unmarshal(stateEnv.Payload, &st))
			tt.check(t, f.controls, st)
		})
	}
}

func TestOutput_ControlErrors(t *testing.T) {
	tests := []struct {
		name   string
		action string
		value  any
	}{
		{"unknown action", "launch", nil},
		{"bad bit mode", ActionSetBitMode, "16"},
		{"grid needs bool", ActionSetGrid, "yes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			conn := f.dial(t)
			before := f.controls.Snapshot()

			sendControl(t, conn, "bad", tt.action, tt.value)
			env := readEnvelope(t, conn)
			assert.Equal(t, TypeError, env.Type)
			assert.Equal(t, "bad", env.ID)
			assert.Equal(t, before, f.controls.Snapshot())
		})
	}
}

func TestOutput_InvalidEnvelope(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)
}

func TestOutput_CloseDisconnectsClients(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	require.NoError(t, f.out.Close(time.Second))
	assert.Equal(t, 0, f.out.ClientCount())
	assert.False(t, f.out.Health().Healthy)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.Error(t, f.out.Render(context.Background(), testFrame(1, 1, 1)))
}
