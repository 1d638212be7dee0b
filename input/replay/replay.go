package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Amanmahe/chords-demo/decoder"
	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/health"
)

// Framing selects how the file is split into payloads.
type Framing string

const (
	FramingLine   Framing = "line"
	FramingBinary Framing = "binary"
)

// Config holds configuration for the replay gateway
type Config struct {
	// Path of the capture; "-" reads standard input
	Path    string  `json:"path" yaml:"path"`
	Framing Framing `json:"framing" yaml:"framing"`
	// Interval between payloads; 0 replays as fast as the feed accepts them
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Loop restarts from the beginning at end of file (not for stdin)
	Loop bool `json:"loop" yaml:"loop"`
}

// DefaultConfig replays stdin line by line at the boards' 500 Hz frame rate
func DefaultConfig() Config {
	return Config{Path: "-", Framing: FramingLine, Interval: 2 * time.Millisecond}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(fmt.Errorf("path is required"), "replay-input", "Validate", "check path")
	}
	if c.Framing != FramingLine && c.Framing != FramingBinary {
		return errors.WrapInvalid(fmt.Errorf("unknown framing %q", c.Framing),
			"replay-input", "Validate", "check framing")
	}
	if c.Interval < 0 {
		return errors.WrapInvalid(fmt.Errorf("interval cannot be negative"),
			"replay-input", "Validate", "check interval")
	}
	if c.Loop && c.Path == "-" {
		return errors.WrapInvalid(fmt.Errorf("cannot loop over standard input"),
			"replay-input", "Validate", "check loop")
	}
	return nil
}

// InputDeps holds runtime dependencies for the replay gateway
type InputDeps struct {
	Name   string
	Config Config
	Stdin  io.Reader    // optional; os.Stdin when nil
	Logger *slog.Logger // optional
}

// Input replays a captured session from a file or standard input.
type Input struct {
	name   string
	config Config
	stdin  io.Reader
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	status   atomic.Int32
	payloads atomic.Int64
	passes   atomic.Int64
	finished atomic.Bool
}

var _ gateway.Gateway = (*Input)(nil)

// NewInput creates a replay gateway
func NewInput(deps InputDeps) (*Input, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	name := deps.Name
	if name == "" {
		name = "replay"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stdin := deps.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	return &Input{
		name:   name,
		config: deps.Config,
		stdin:  stdin,
		logger: logger.With("component", "replay-input", "name", name),
	}, nil
}

// Name returns the gateway name
func (i *Input) Name() string { return i.name }

// Finished reports whether the capture was read to the end without looping.
func (i *Input) Finished() bool { return i.finished.Load() }

// Health reports replay progress
func (i *Input) Health() health.Status {
	var st health.Status
	switch {
	case gateway.Status(i.status.Load()) == gateway.StatusConnected:
		st = health.NewHealthy(i.name, "replaying")
	case i.finished.Load():
		st = health.NewHealthy(i.name, "replay complete")
	default:
		st = health.NewUnhealthy(i.name, "not replaying")
	}
	return st.WithMetrics(&health.Metrics{PayloadsProcessed: i.payloads.Load()})
}

// Start opens the capture and replays it on a goroutine
func (i *Input) Start(ctx context.Context, pub gateway.Publisher) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "replay-input", "Start", "start gateway")
	}
	runCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	i.done = make(chan struct{})

	go func() {
		defer close(i.done)
		err := i.run(runCtx, pub)
		i.setStatus(pub, gateway.StatusDisconnected, err)
	}()
	return nil
}

func (i *Input) setStatus(pub gateway.Publisher, s gateway.Status, reason error) {
	i.status.Store(int32(s))
	pub.Publish(gateway.StatusEvent(i.name, s, reason))
}

func (i *Input) open() (io.ReadCloser, error) {
	if i.config.Path == "-" {
		return io.NopCloser(i.stdin), nil
	}
	f, err := os.Open(i.config.Path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "replay-input", "open", "open capture")
	}
	return f, nil
}

func (i *Input) run(ctx context.Context, pub gateway.Publisher) error {
	i.setStatus(pub, gateway.StatusConnecting, nil)

	var pace <-chan time.Time
	if i.config.Interval > 0 {
		ticker := time.NewTicker(i.config.Interval)
		defer ticker.Stop()
		pace = ticker.C
	}

	for {
		rc, err := i.open()
		if err != nil {
			i.logger.Error("Cannot open capture", "path", i.config.Path, "error", err)
			return err
		}
		if i.passes.Load() == 0 {
			i.logger.Info("Replaying capture", "path", i.config.Path, "framing", i.config.Framing)
			i.setStatus(pub, gateway.StatusConnected, nil)
		}

		err = i.replay(ctx, rc, pub, pace)
		_ = rc.Close()
		i.passes.Add(1)

		if err != nil || ctx.Err() != nil {
			return err
		}
		if !i.config.Loop {
			i.finished.Store(true)
			i.logger.Info("Capture finished", "payloads", i.payloads.Load())
			return nil
		}
	}
}

func (i *Input) replay(ctx context.Context, r io.Reader, pub gateway.Publisher, pace <-chan time.Time) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	if i.config.Framing == FramingBinary {
		sc.Split(decoder.ScanFrames)
	}

	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		data := append([]byte(nil), sc.Bytes()...)
		i.payloads.Add(1)
		pub.Publish(gateway.PayloadEvent(i.name, data, time.Now()))
	}
	if err := sc.Err(); err != nil {
		return errors.WrapTransient(err, "replay-input", "replay", "read capture")
	}
	return nil
}

// Stop cancels the replay and waits for it to finish
func (i *Input) Stop(timeout time.Duration) error {
	i.mu.Lock()
	cancel, done := i.cancel, i.done
	i.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		// a blocked stdin read cannot be interrupted
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"replay-input", "Stop", "graceful shutdown")
	}
}
