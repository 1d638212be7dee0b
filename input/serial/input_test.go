package serial

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"sync"
	"testing"
	"time"

	goserial "github.com/jacobsa/go-serial/serial"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanmahe/chords-demo/decoder"
	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/pkg/retry"
)

// fakePort behaves like a driver opened with a read timeout: Read returns
// (0, io.EOF) when nothing arrives within a few milliseconds.
type fakePort struct {
	mu      sync.Mutex
	in      bytes.Buffer
	written bytes.Buffer
	closed  bool
	failErr error
	// onWrite lets a test answer commands like real firmware.
	onWrite func(p *fakePort, cmd string)
}

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	p.in.Write(b)
	p.mu.Unlock()
}

func (p *fakePort) fail(err error) {
	p.mu.Lock()
	p.failErr = err
	p.mu.Unlock()
}

func (p *fakePort) Read(b []byte) (int, error) {
	deadline := time.Now().Add(5 * time.Millisecond)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if p.failErr != nil {
			err := p.failErr
			p.mu.Unlock()
			return 0, err
		}
		if p.in.Len() > 0 {
			n, _ := p.in.Read(b)
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()
		if time.Now().After(deadline) {
			return 0, io.EOF
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written.Write(b)
	hook := p.onWrite
	p.mu.Unlock()
	if hook != nil {
		hook(p, string(b))
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) writes() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// firmware answers WHORU with its identity.
func firmware(identity string) func(p *fakePort, cmd string) {
	return func(p *fakePort, cmd string) {
		if cmd == "WHORU\n" {
			p.feed([]byte(identity + "\r\n"))
		}
	}
}

type collector struct {
	mu     sync.Mutex
	events []gateway.Event
}

func (c *collector) Publish(ev gateway.Event) bool {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return true
}

func (c *collector) statuses() []gateway.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []gateway.Status
	for _, ev := range c.events {
		if ev.Kind == gateway.EventStatus {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (c *collector) payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, ev := range c.events {
		if ev.Kind == gateway.EventPayload {
			out = append(out, ev.Payload.Data)
		}
	}
	return out
}

func quickRetry(attempts int) *retry.Config {
	return &retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func frame(counter uint8, v int16) []byte {
	return decoder.Frame{Counter: counter, Values: [decoder.FrameChannels]int16{v, v, v, v, v, v}}.Bytes()
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Framing = "csv"
	assert.True(t, errors.IsInvalid(cfg.Validate()))

	cfg = DefaultConfig()
	cfg.Identity = ""
	assert.Error(t, cfg.Validate())
	cfg.Port = "/dev/ttyACM0"
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BaudRate = 0
	assert.Error(t, cfg.Validate())
}

func TestInput_AutoDetectsAndStreamsFrames(t *testing.T) {
	wrong := &fakePort{onWrite: firmware("OTHER-BOARD")}
	right := &fakePort{onWrite: firmware("UNO-R4")}
	ports := map[string]*fakePort{"/dev/ttyACM0": wrong, "/dev/ttyACM1": right}

	var opened []goserial.OpenOptions
	var mu sync.Mutex
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	cfg.Candidates = []string{"/dev/ttyACM*", "/dev/ttyUSB*"}
	reg := metric.NewMetricsRegistry()

	in, err := NewInput(InputDeps{
		Config: cfg,
		Opener: func(o goserial.OpenOptions) (io.ReadWriteCloser, error) {
			mu.Lock()
			opened = append(opened, o)
			mu.Unlock()
			return ports[o.PortName], nil
		},
		Glob: func(pattern string) ([]string, error) {
			if pattern == "/dev/ttyACM*" {
				return []string{"/dev/ttyACM0", "/dev/ttyACM1"}, nil
			}
			return nil, nil
		},
		Retry:           quickRetry(1),
		MetricsRegistry: reg,
	})
	require.NoError(t, err)

	pub := &collector{}
	require.NoError(t, in.Start(context.Background(), pub))
	defer in.Stop(time.Second)

	require.Eventually(t, func() bool {
		st := pub.statuses()
		return len(st) > 0 && st[len(st)-1] == gateway.StatusConnected
	}, 2*time.Second, time.Millisecond)

	assert.True(t, wrong.isClosed(), "non-matching port is closed")
	assert.Equal(t, "WHORU\nSTART\r\n", right.writes())
	assert.True(t, in.Health().IsHealthy())

	// junk before the first sync pair is skipped
	right.feed([]byte{0x00, 0x42})
	right.feed(frame(1, 10))
	right.feed(frame(2, 20)[:8])
	right.feed(frame(2, 20)[8:])

	require.Eventually(t, func() bool { return len(pub.payloads()) == 2 }, 2*time.Second, time.Millisecond)
	got := pub.payloads()
	f, ok := decoder.ParseFrame(got[1])
	require.True(t, ok)
	assert.Equal(t, uint8(2), f.Counter)

	mu.Lock()
	require.NotEmpty(t, opened)
	assert.Equal(t, uint(115200), opened[0].BaudRate)
	assert.Equal(t, goserial.PARITY_NONE, opened[0].ParityMode)
	assert.Equal(t, uint(100), opened[0].InterCharacterTimeout)
	mu.Unlock()

	require.NoError(t, in.Stop(time.Second))
	st := pub.statuses()
	assert.Equal(t, []gateway.Status{gateway.StatusConnecting, gateway.StatusConnected, gateway.StatusDisconnected}, st)
	assert.Zero(t, testutil.ToFloat64(reg.CoreMetrics().GatewayRetries.WithLabelValues("serial")))
}

func TestInput_LineFramingOnFixedPort(t *testing.T) {
	port := &fakePort{}
	cfg := DefaultConfig()
	cfg.Port = "/dev/ttyUSB3"
	cfg.Framing = FramingLine

	in, err := NewInput(InputDeps{
		Name:   "bench",
		Config: cfg,
		Opener: func(goserial.OpenOptions) (io.ReadWriteCloser, error) { return port, nil },
		Retry:  quickRetry(1),
	})
	require.NoError(t, err)

	pub := &collector{}
	require.NoError(t, in.Start(context.Background(), pub))
	defer in.Stop(time.Second)

	port.feed([]byte("512,100\r\n\n7"))
	port.feed([]byte("\n"))

	require.Eventually(t, func() bool { return len(pub.payloads()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, [][]byte{[]byte("512,100"), []byte("7")}, pub.payloads())
	assert.Equal(t, "START\r\n", port.writes(), "fixed ports skip the identity probe")
	assert.Equal(t, "bench", in.Name())
}

func TestInput_ReconnectsAfterReadError(t *testing.T) {
	first := &fakePort{}
	second := &fakePort{}
	var n int
	var mu sync.Mutex

	cfg := DefaultConfig()
	cfg.Port = "/dev/ttyACM0"
	in, err := NewInput(InputDeps{
		Config: cfg,
		Opener: func(goserial.OpenOptions) (io.ReadWriteCloser, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			if n == 1 {
				return first, nil
			}
			return second, nil
		},
		Retry: quickRetry(3),
	})
	require.NoError(t, err)

	pub := &collector{}
	require.NoError(t, in.Start(context.Background(), pub))
	defer in.Stop(time.Second)

	require.Eventually(t, func() bool { return len(pub.statuses()) == 2 }, time.Second, time.Millisecond)
	first.fail(stderrors.New("input/output error"))

	require.Eventually(t, func() bool { return len(pub.statuses()) == 5 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []gateway.Status{
		gateway.StatusConnecting, gateway.StatusConnected,
		gateway.StatusDisconnected,
		gateway.StatusConnecting, gateway.StatusConnected,
	}, pub.statuses())

	pub.mu.Lock()
	reason := pub.events[2].Reason
	pub.mu.Unlock()
	assert.ErrorIs(t, reason, errors.ErrConnectionLost)
	assert.True(t, first.isClosed())
}

func TestInput_IdleTimeoutDropsConnection(t *testing.T) {
	port := &fakePort{}
	cfg := DefaultConfig()
	cfg.Port = "/dev/ttyACM0"
	cfg.IdleTimeout = 20 * time.Millisecond
	cfg.Reconnect = false

	in, err := NewInput(InputDeps{
		Config: cfg,
		Opener: func(goserial.OpenOptions) (io.ReadWriteCloser, error) { return port, nil },
		Retry:  quickRetry(1),
	})
	require.NoError(t, err)

	pub := &collector{}
	require.NoError(t, in.Start(context.Background(), pub))

	require.Eventually(t, func() bool { return len(pub.statuses()) == 3 }, 2*time.Second, time.Millisecond)
	pub.mu.Lock()
	reason := pub.events[2].Reason
	pub.mu.Unlock()
	assert.ErrorIs(t, reason, errors.ErrConnectionTimeout)
	assert.True(t, in.Health().IsUnhealthy())
	require.NoError(t, in.Stop(time.Second))
}

func TestInput_NoDeviceRetriesThenGivesUp(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	cfg := DefaultConfig()
	cfg.Candidates = []string{"/dev/none*"}

	in, err := NewInput(InputDeps{
		Config:          cfg,
		Opener:          func(goserial.OpenOptions) (io.ReadWriteCloser, error) { return nil, stderrors.New("unused") },
		Glob:            func(string) ([]string, error) { return nil, nil },
		Retry:           quickRetry(3),
		MetricsRegistry: reg,
	})
	require.NoError(t, err)

	pub := &collector{}
	require.NoError(t, in.Start(context.Background(), pub))

	require.Eventually(t, func() bool { return len(pub.statuses()) == 2 }, 2*time.Second, time.Millisecond)
	pub.mu.Lock()
	reason := pub.events[1].Reason
	pub.mu.Unlock()
	assert.ErrorIs(t, reason, errors.ErrDeviceNotFound)
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.CoreMetrics().GatewayRetries.WithLabelValues("serial")))
	require.NoError(t, in.Stop(time.Second))
}

func TestInput_StartTwice(t *testing.T) {
	port := &fakePort{}
	cfg := DefaultConfig()
	cfg.Port = "/dev/ttyACM0"
	in, err := NewInput(InputDeps{
		Config: cfg,
		Opener: func(goserial.OpenOptions) (io.ReadWriteCloser, error) { return port, nil },
	})
	require.NoError(t, err)

	require.NoError(t, in.Start(context.Background(), &collector{}))
	err = in.Start(context.Background(), &collector{})
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
	require.NoError(t, in.Stop(time.Second))
	require.NoError(t, in.Stop(time.Second))
}

func TestIdentify_KeepsTrailingStreamBytes(t *testing.T) {
	port := &fakePort{}
	port.onWrite = func(p *fakePort, cmd string) {
		p.feed(append([]byte("boot\r\nUNO-R4\r\n"), frame(9, 1)...))
	}
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	in, err := NewInput(InputDeps{Config: cfg})
	require.NoError(t, err)

	rest, ok := in.identify(context.Background(), port)
	require.True(t, ok)
	assert.Equal(t, frame(9, 1), rest)

	silent := &fakePort{}
	_, ok = in.identify(context.Background(), silent)
	assert.False(t, ok)
}
