package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanmahe/chords-demo/decoder"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/metric"
)

type collector struct {
	mu     sync.Mutex
	events []gateway.Event
}

func (c *collector) Publish(ev gateway.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

func (c *collector) snapshot() []gateway.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]gateway.Event(nil), c.events...)
}

func (c *collector) payloads() []string {
	var out []string
	for _, ev := range c.snapshot() {
		if ev.Kind == gateway.EventPayload {
			out = append(out, string(ev.Payload.Data))
		}
	}
	return out
}

func (c *collector) statuses() []gateway.Status {
	var out []gateway.Status
	for _, ev := range c.snapshot() {
		if ev.Kind == gateway.EventStatus {
			out = append(out, ev.Status)
		}
	}
	return out
}

// deviceServer upgrades every request and hands the connection to serve.
func deviceServer(t *testing.T, serve func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.HandshakeTimeout = time.Second
	cfg.Reconnect.InitialInterval = 10 * time.Millisecond
	cfg.Reconnect.MaxInterval = 20 * time.Millisecond
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"wss", func(c *Config) { c.URL = "wss://board.local/stream" }, false},
		{"http scheme", func(c *Config) { c.URL = "http://board.local" }, true},
		{"unparseable", func(c *Config) { c.URL = "ws://[::1" }, true},
		{"inverted backoff", func(c *Config) { c.Reconnect.MaxInterval = time.Millisecond }, true},
		{"inverted backoff without reconnect", func(c *Config) {
			c.Reconnect.Enabled = false
			c.Reconnect.MaxInterval = time.Millisecond
		}, false},
		{"negative read limit", func(c *Config) { c.ReadLimit = -1 }, true},
		{"client cert without key", func(c *Config) { c.TLS.CertFile = "client.pem" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInput_TextLinesBecomePayloads(t *testing.T) {
	srv := deviceServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("1,2,3\n4,5,6\n"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("7,8,9"))
		// hold the connection open until the client goes away
		_, _, _ = conn.ReadMessage()
	})

	in, err := NewInput(InputDeps{Name: "wifi", Config: testConfig(wsURL(srv))})
	require.NoError(t, err)
	assert.Equal(t, "wifi", in.Name())

	c := &collector{}
	require.NoError(t, in.Start(testContext(t), c))
	defer in.Stop(time.Second)

	require.Eventually(t, func() bool { return len(c.payloads()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"1,2,3", "4,5,6", "7,8,9"}, c.payloads())
	assert.Equal(t, []gateway.Status{gateway.StatusConnecting, gateway.StatusConnected}, c.statuses())
	assert.True(t, in.Health().Healthy)
}

func TestInput_BinaryMessageSplitIntoFrames(t *testing.T) {
	f1 := decoder.Frame{Counter: 1, Values: [6]int16{1, 2, 3, 4, 5, 6}}
	f2 := decoder.Frame{Counter: 2, Values: [6]int16{7, 8, 9, 10, 11, 12}}
	msg := append(append([]byte{0x00}, f1.Bytes()...), f2.Bytes()...)

	srv := deviceServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, msg)
		_, _, _ = conn.ReadMessage()
	})

	in, err := NewInput(InputDeps{Config: testConfig(wsURL(srv))})
	require.NoError(t, err)
	c := &collector{}
	require.NoError(t, in.Start(testContext(t), c))
	defer in.Stop(time.Second)

	require.Eventually(t, func() bool { return len(c.payloads()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := c.payloads()
	assert.Equal(t, string(f1.Bytes()), got[0])
	assert.Equal(t, string(f2.Bytes()), got[1])
}

func TestInput_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	srv := deviceServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("session"))
		if n > 1 {
			_, _, _ = conn.ReadMessage()
		}
		// first connection closes right away
	})

	registry := metric.NewMetricsRegistry()
	in, err := NewInput(InputDeps{Name: "wifi", Config: testConfig(wsURL(srv)), MetricsRegistry: registry})
	require.NoError(t, err)
	c := &collector{}
	require.NoError(t, in.Start(testContext(t), c))
	defer in.Stop(time.Second)

	require.Eventually(t, func() bool { return len(c.payloads()) == 2 }, 2*time.Second, 10*time.Millisecond)

	statuses := c.statuses()
	require.GreaterOrEqual(t, len(statuses), 5)
	assert.Equal(t, []gateway.Status{
		gateway.StatusConnecting, gateway.StatusConnected, gateway.StatusDisconnected,
		gateway.StatusConnecting, gateway.StatusConnected,
	}, statuses[:5])

	for _, ev := range c.snapshot() {
		if ev.Kind == gateway.EventStatus && ev.Status == gateway.StatusDisconnected {
			assert.Error(t, ev.Reason)
		}
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(in.metrics.reconnectAttempts))
	assert.Equal(t, float64(2), testutil.ToFloat64(in.metrics.connectionsTotal))
}

func TestInput_GivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.Reconnect.MaxRetries = 2

	in, err := NewInput(InputDeps{Config: cfg})
	require.NoError(t, err)
	c := &collector{}
	require.NoError(t, in.Start(testContext(t), c))

	require.Eventually(t, func() bool { return !in.running.Load() }, 2*time.Second, 10*time.Millisecond)

	statuses := c.statuses()
	assert.Equal(t, gateway.StatusDisconnected, statuses[len(statuses)-1])
	disconnects := 0
	for _, s := range statuses {
		if s == gateway.StatusDisconnected {
			disconnects++
		}
	}
	assert.Equal(t, 3, disconnects)
	assert.False(t, in.Health().Healthy)
	assert.NoError(t, in.Stop(time.Second))
}

func TestInput_BearerToken(t *testing.T) {
	t.Setenv("CHORDS_WS_TOKEN", "s3cret")
	gotAuth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case gotAuth <- r.Header.Get("Authorization"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.BearerTokenEnv = "CHORDS_WS_TOKEN"
	in, err := NewInput(InputDeps{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, in.Start(testContext(t), &collector{}))
	defer in.Stop(time.Second)

	select {
	case auth := <-gotAuth:
		assert.Equal(t, "Bearer s3cret", auth)
	case <-time.After(2 * time.Second):
		t.Fatal("no handshake")
	}
}

func TestInput_StartTwiceAndStopBeforeStart(t *testing.T) {
	srv := deviceServer(t, func(conn *websocket.Conn) { _, _, _ = conn.ReadMessage() })
	in, err := NewInput(InputDeps{Config: testConfig(wsURL(srv))})
	require.NoError(t, err)

	assert.NoError(t, in.Stop(time.Second))

	c := &collector{}
	require.NoError(t, in.Start(testContext(t), c))
	assert.Error(t, in.Start(testContext(t), c))

	require.Eventually(t, func() bool {
		s := c.statuses()
		return len(s) > 0 && s[len(s)-1] == gateway.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, in.Stop(time.Second))
	statuses := c.statuses()
	assert.Equal(t, gateway.StatusDisconnected, statuses[len(statuses)-1])
}

func TestInput_SecureURL(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("42"))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(wsURL(srv))
	require.True(t, strings.HasPrefix(cfg.URL, "wss://"))
	cfg.TLS.InsecureSkipVerify = true

	in, err := NewInput(InputDeps{Config: cfg})
	require.NoError(t, err)
	require.NotNil(t, in.dialer.TLSClientConfig)

	c := &collector{}
	require.NoError(t, in.Start(testContext(t), c))
	defer in.Stop(time.Second)

	require.Eventually(t, func() bool { return len(c.payloads()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"42"}, c.payloads())
}
