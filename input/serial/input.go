package serial

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goserial "github.com/jacobsa/go-serial/serial"

	"github.com/Amanmahe/chords-demo/decoder"
	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/health"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/pkg/retry"
)

// readTimeout is the inter-character timeout handed to the driver. Reads
// return empty after this long so shutdown and idle checks stay responsive.
const readTimeout = 100 * time.Millisecond

const maxLineLen = 64 * 1024

// Opener opens a serial device. goserial.Open is the default.
type Opener func(goserial.OpenOptions) (io.ReadWriteCloser, error)

// InputDeps holds runtime dependencies for the serial gateway.
type InputDeps struct {
	Name            string
	Config          Config
	Opener          Opener                                 // optional
	Glob            func(pattern string) ([]string, error) // optional
	Retry           *retry.Config                          // optional, defaults to retry.Device()
	MetricsRegistry *metric.MetricsRegistry                // optional
	Logger          *slog.Logger                           // optional
}

// Input is a gateway reading payloads from a serial device.
type Input struct {
	name    string
	cfg     Config
	open    Opener
	glob    func(string) ([]string, error)
	retry   retry.Config
	metrics *metric.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	status    atomic.Int32
	device    atomic.Value // string
	lastError atomic.Value // string
	payloads  atomic.Int64
	bytesRead atomic.Int64
	errors    atomic.Int64
	startTime time.Time
}

var _ gateway.Gateway = (*Input)(nil)

// NewInput creates a serial gateway.
func NewInput(deps InputDeps) (*Input, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = "serial"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	open := deps.Opener
	if open == nil {
		open = func(o goserial.OpenOptions) (io.ReadWriteCloser, error) { return goserial.Open(o) }
	}
	glob := deps.Glob
	if glob == nil {
		glob = filepath.Glob
	}
	rc := retry.Device()
	if deps.Retry != nil {
		rc = *deps.Retry
	}

	in := &Input{
		name:      name,
		cfg:       deps.Config,
		open:      open,
		glob:      glob,
		retry:     rc,
		logger:    logger.With("component", "serial-input", "name", name),
		startTime: time.Now(),
	}
	if deps.MetricsRegistry != nil {
		in.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	in.device.Store("")
	in.lastError.Store("")
	return in, nil
}

// Name returns the gateway name used as the event source.
func (in *Input) Name() string { return in.name }

// Start launches the connect/read loop and returns immediately.
func (in *Input) Start(ctx context.Context, pub gateway.Publisher) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "SerialInput", "Start", "start gateway")
	}

	runCtx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.done = make(chan struct{})
	in.running.Store(true)
	in.startTime = time.Now()

	go func() {
		defer close(in.done)
		defer in.running.Store(false)
		in.run(runCtx, pub)
	}()
	return nil
}

// Stop ends the loop and closes the device.
func (in *Input) Stop(timeout time.Duration) error {
	in.mu.Lock()
	cancel, done := in.cancel, in.done
	in.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"SerialInput", "Stop", "graceful shutdown")
	}
}

func (in *Input) publishStatus(pub gateway.Publisher, s gateway.Status, reason error) {
	in.status.Store(int32(s))
	if reason != nil {
		in.lastError.Store(reason.Error())
	}
	pub.Publish(gateway.StatusEvent(in.name, s, reason))
}

func (in *Input) run(ctx context.Context, pub gateway.Publisher) {
	rc := in.retry
	rc.OnRetry = func(attempt int, err error, next time.Duration) {
		in.errors.Add(1)
		if in.metrics != nil {
			in.metrics.GatewayRetries.WithLabelValues(in.name).Inc()
		}
		in.logger.Warn("Serial connect failed, retrying", "attempt", attempt, "next", next, "error", err)
	}

	for {
		in.publishStatus(pub, gateway.StatusConnecting, nil)

		conn, err := retry.DoWithResult(ctx, rc, func() (*connection, error) {
			return in.connect(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				in.publishStatus(pub, gateway.StatusDisconnected, nil)
				return
			}
			in.logger.Error("Serial device unavailable", "error", err)
			in.publishStatus(pub, gateway.StatusDisconnected, err)
			return
		}

		in.device.Store(conn.path)
		in.logger.Info("Serial device connected", "port", conn.path, "baud", in.cfg.BaudRate)
		in.publishStatus(pub, gateway.StatusConnected, nil)

		err = in.readLoop(ctx, conn.port, conn.pending, pub)
		_ = conn.port.Close()

		if ctx.Err() != nil {
			in.publishStatus(pub, gateway.StatusDisconnected, nil)
			return
		}

		in.errors.Add(1)
		lost := errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
			"SerialInput", "readLoop", "read device")
		in.logger.Warn("Serial device lost", "port", conn.path, "error", err)
		in.publishStatus(pub, gateway.StatusDisconnected, lost)

		if !in.cfg.Reconnect {
			return
		}
	}
}

type connection struct {
	port    io.ReadWriteCloser
	path    string
	pending []byte // bytes read during the handshake that belong to the stream
}

func (in *Input) options(path string) goserial.OpenOptions {
	return goserial.OpenOptions{
		PortName:              path,
		BaudRate:              uint(in.cfg.BaudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            goserial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: uint(readTimeout / time.Millisecond),
	}
}

// connect opens the configured port, or probes candidates for one that
// answers the identity probe, and sends the start command.
func (in *Input) connect(ctx context.Context) (*connection, error) {
	if in.cfg.Port != "" {
		port, err := in.open(in.options(in.cfg.Port))
		if err != nil {
			return nil, errors.WrapTransient(err, "SerialInput", "connect", "open "+in.cfg.Port)
		}
		if err := in.sendStart(port); err != nil {
			_ = port.Close()
			return nil, err
		}
		return &connection{port: port, path: in.cfg.Port}, nil
	}

	paths, err := in.expandCandidates()
	if err != nil {
		return nil, retry.NonRetryable(errors.WrapInvalid(err, "SerialInput", "connect", "expand candidates"))
	}
	for _, path := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		port, err := in.open(in.options(path))
		if err != nil {
			in.logger.Debug("Skipping port", "port", path, "error", err)
			continue
		}
		rest, ok := in.identify(ctx, port)
		if !ok {
			in.logger.Debug("Port did not identify", "port", path)
			_ = port.Close()
			continue
		}
		if err := in.sendStart(port); err != nil {
			_ = port.Close()
			return nil, err
		}
		return &connection{port: port, path: path, pending: rest}, nil
	}
	return nil, errors.WrapTransient(
		fmt.Errorf("%w: %q on %d candidate ports", errors.ErrDeviceNotFound, in.cfg.Identity, len(paths)),
		"SerialInput", "connect", "probe ports")
}

func (in *Input) expandCandidates() ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, pattern := range in.cfg.candidates() {
		matches := []string{pattern}
		if strings.ContainsAny(pattern, "*?[") {
			var err error
			if matches, err = in.glob(pattern); err != nil {
				return nil, err
			}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// identify sends the probe and waits for the identity string. Bytes after
// the identity line are returned so no stream data is lost.
func (in *Input) identify(ctx context.Context, port io.ReadWriter) ([]byte, bool) {
	if in.cfg.Probe != "" {
		if _, err := io.WriteString(port, in.cfg.Probe); err != nil {
			return nil, false
		}
	}

	deadline := time.Now().Add(in.cfg.HandshakeTimeout)
	want := []byte(in.cfg.Identity)
	var got []byte
	buf := make([]byte, 256)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		n, err := port.Read(buf)
		if n > 0 {
			got = append(got, buf[:n]...)
			if i := bytes.Index(got, want); i >= 0 {
				rest := got[i+len(want):]
				if nl := bytes.IndexByte(rest, '\n'); nl >= 0 {
					rest = rest[nl+1:]
				} else {
					rest = nil
				}
				return rest, true
			}
		}
		if err != nil && !stderrors.Is(err, io.EOF) {
			return nil, false
		}
	}
	return nil, false
}

func (in *Input) sendStart(port io.Writer) error {
	if in.cfg.StartCommand == "" {
		return nil
	}
	if _, err := io.WriteString(port, in.cfg.StartCommand); err != nil {
		return errors.WrapTransient(err, "SerialInput", "sendStart", "write start command")
	}
	return nil
}

func (in *Input) readLoop(ctx context.Context, port io.Reader, pending []byte, pub gateway.Publisher) error {
	r := &idleReader{ctx: ctx, r: port, idleTimeout: in.cfg.IdleTimeout, bytes: &in.bytesRead}
	sc := bufio.NewScanner(io.MultiReader(bytes.NewReader(pending), r))
	sc.Buffer(make([]byte, 4096), maxLineLen)
	if in.cfg.Framing == FramingLine {
		sc.Split(bufio.ScanLines)
	} else {
		sc.Split(decoder.ScanFrames)
	}

	for sc.Scan() {
		token := sc.Bytes()
		if len(token) == 0 {
			continue
		}
		data := make([]byte, len(token))
		copy(data, token)
		in.payloads.Add(1)
		pub.Publish(gateway.PayloadEvent(in.name, data, time.Now()))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// Health reports the device state.
func (in *Input) Health() health.Status {
	var st health.Status
	switch gateway.Status(in.status.Load()) {
	case gateway.StatusConnected:
		st = health.NewHealthy(in.name, "connected to "+in.device.Load().(string))
	case gateway.StatusConnecting:
		st = health.NewDegraded(in.name, "connecting")
	default:
		msg := "disconnected"
		if last := in.lastError.Load().(string); last != "" {
			msg = last
		}
		st = health.FromError(in.name, stderrors.New(msg))
	}
	return st.WithMetrics(&health.Metrics{
		Uptime:            time.Since(in.startTime),
		ErrorCount:        in.errors.Load(),
		PayloadsProcessed: in.payloads.Load(),
	})
}

// idleReader hides driver read timeouts from bufio.Scanner. The driver
// returns (0, nil) or (0, io.EOF) when no byte arrived within readTimeout;
// idleReader keeps reading until data arrives, ctx is done or the line has
// been silent for idleTimeout.
type idleReader struct {
	ctx         context.Context
	r           io.Reader
	idleTimeout time.Duration
	bytes       *atomic.Int64
}

func (ir *idleReader) Read(p []byte) (int, error) {
	var idleSince time.Time
	for {
		if err := ir.ctx.Err(); err != nil {
			return 0, err
		}
		n, err := ir.r.Read(p)
		if n > 0 {
			ir.bytes.Add(int64(n))
			return n, nil
		}
		if err != nil && !stderrors.Is(err, io.EOF) {
			return 0, err
		}
		if idleSince.IsZero() {
			idleSince = time.Now()
		} else if ir.idleTimeout > 0 && time.Since(idleSince) >= ir.idleTimeout {
			return 0, fmt.Errorf("no data for %s: %w", ir.idleTimeout, errors.ErrConnectionTimeout)
		}
	}
}
