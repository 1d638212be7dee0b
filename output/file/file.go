// Package file provides a render surface that records newly appended samples
// to disk as CSV or JSON lines.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/health"
	"github.com/Amanmahe/chords-demo/render"
)

// Config holds configuration for the file recorder
type Config struct {
	Directory  string `json:"directory" yaml:"directory"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
	// Format is csv (seq,channel,value,width per line) or jsonl (one object per sample)
	Format        string        `json:"format" yaml:"format"`
	Append        bool          `json:"append" yaml:"append"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "directory is required")
	}

	validFormats := map[string]bool{"csv": true, "jsonl": true}
	if !validFormats[c.Format] {
		return errors.WrapInvalid(fmt.Errorf("format must be one of: csv, jsonl"), "Config", "Validate", "check format")
	}

	if c.BufferSize < 0 {
		return errors.WrapInvalid(fmt.Errorf("buffer_size cannot be negative"), "Config", "Validate", "check buffer")
	}
	if c.FlushInterval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("flush_interval must be positive"), "Config", "Validate", "check flush")
	}
	return nil
}

// DefaultConfig returns default configuration for the recorder
func DefaultConfig() Config {
	return Config{
		Directory:     "recordings",
		FilePrefix:    "session",
		Format:        "csv",
		Append:        false,
		BufferSize:    4096,
		FlushInterval: time.Second,
	}
}

type record struct {
	Seq     uint64 `json:"seq"`
	Channel int    `json:"channel"`
	Value   int32  `json:"value"`
	Width   int    `json:"width"`
}

// Output records every sample once. Render copies new samples into an
// in-memory batch; a flush goroutine writes batches out.
type Output struct {
	config Config
	logger *slog.Logger
	path   string

	// File handling
	file   *os.File
	writer *bufio.Writer
	fileMu sync.Mutex

	// Samples awaiting flush
	buffer   []record
	bufferMu sync.Mutex

	// render goroutine only
	lastGen uint64
	next    uint64
	seen    bool

	// Lifecycle management
	shutdown    chan struct{}
	wg          sync.WaitGroup
	running     atomic.Bool
	lifecycleMu sync.Mutex
	startTime   time.Time

	// Metrics
	samplesWritten atomic.Int64
	bytesWritten   atomic.Int64
	errorCount     atomic.Int64
	gaps           atomic.Int64
}

var _ render.Surface = (*Output)(nil)

// NewOutput creates the recorder; the file is opened by Start
func NewOutput(cfg Config, logger *slog.Logger) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	name := fmt.Sprintf("%s-%s.%s", cfg.FilePrefix, time.Now().UTC().Format("20060102T150405Z"), cfg.Format)
	if cfg.Append {
		name = fmt.Sprintf("%s.%s", cfg.FilePrefix, cfg.Format)
	}
	path := filepath.Join(cfg.Directory, name)
	return &Output{
		config: cfg,
		path:   path,
		logger: logger.With("component", "file-output", "path", path),
		buffer: make([]record, 0, cfg.BufferSize),
	}, nil
}

// Name identifies the surface in scheduler logs
func (f *Output) Name() string { return "file" }

// Path returns the file being written
func (f *Output) Path() string { return f.path }

// Start opens the output file and begins periodic flushing
func (f *Output) Start(ctx context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if f.running.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Start", "check running state")
	}

	if err := os.MkdirAll(f.config.Directory, 0755); err != nil {
		return errors.WrapFatal(err, "Output", "Start", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if f.config.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(f.path, flags, 0644)
	if err != nil {
		return errors.WrapFatal(err, "Output", "Start", "open output file")
	}

	f.fileMu.Lock()
	f.file = file
	f.writer = bufio.NewWriter(file)
	if f.config.Format == "csv" {
		if info, err := file.Stat(); err == nil && info.Size() == 0 {
			_, _ = f.writer.WriteString("seq,channel,value,width\n")
		}
	}
	f.fileMu.Unlock()

	f.shutdown = make(chan struct{})
	f.wg.Add(1)
	go f.flushLoop(ctx)

	f.running.Store(true)
	f.startTime = time.Now()
	f.logger.Info("Recording samples", "format", f.config.Format, "append", f.config.Append)
	return nil
}

// Render queues the samples this frame adds since the previous one
func (f *Output) Render(_ context.Context, fr render.Frame) error {
	if !f.running.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "Output", "Render", "check running state")
	}

	w := fr.Window
	if !f.seen || w.Generation != f.lastGen {
		f.seen, f.lastGen, f.next = true, w.Generation, w.Start
	}

	var fresh []record
	for _, s := range w.Samples {
		if s.Seq < f.next {
			continue
		}
		if len(fresh) == 0 && s.Seq > f.next {
			f.gaps.Add(1)
			f.logger.Debug("Samples lost before recording", "from", f.next, "to", s.Seq)
		}
		fresh = append(fresh, record{Seq: s.Seq, Channel: s.Channel, Value: s.Value, Width: s.Width.Bits()})
	}
	if len(fresh) == 0 {
		return nil
	}
	f.next = fresh[len(fresh)-1].Seq + 1

	f.bufferMu.Lock()
	f.buffer = append(f.buffer, fresh...)
	shouldFlush := len(f.buffer) >= f.config.BufferSize
	f.bufferMu.Unlock()

	if shouldFlush {
		f.flush()
	}
	return nil
}

// Stop flushes what is buffered and closes the file
func (f *Output) Stop(timeout time.Duration) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if !f.running.Load() {
		return nil
	}
	f.running.Store(false)

	// Signal shutdown
	close(f.shutdown)

	// Wait for goroutines with timeout
	waitCh := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Output", "Stop", "shutdown")
	}

	// Flush remaining buffer
	f.flush()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()
	if f.file == nil {
		return nil
	}
	var err error
	if ferr := f.writer.Flush(); ferr != nil {
		err = errors.WrapTransient(ferr, "Output", "Stop", "flush writer")
	}
	if cerr := f.file.Close(); cerr != nil && err == nil {
		err = errors.WrapTransient(cerr, "Output", "Stop", "close output file")
	}
	f.file, f.writer = nil, nil
	f.logger.Info("Recording closed", "samples", f.samplesWritten.Load(), "bytes", f.bytesWritten.Load())
	return err
}

// flushLoop periodically flushes the buffer
func (f *Output) flushLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

// flush writes buffered samples to the file
func (f *Output) flush() {
	f.bufferMu.Lock()
	if len(f.buffer) == 0 {
		f.bufferMu.Unlock()
		return
	}
	records := f.buffer
	f.buffer = make([]record, 0, f.config.BufferSize)
	f.bufferMu.Unlock()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.file == nil {
		f.errorCount.Add(int64(len(records)))
		f.logger.Error("File handle is nil during flush", "samples_lost", len(records))
		return
	}

	var line []byte
	for _, r := range records {
		line = line[:0]
		switch f.config.Format {
		case "jsonl":
			data, err := json.Marshal(r)
			if err != nil {
				f.errorCount.Add(1)
				continue
			}
			line = append(line, data...)
		default:
			line = strconv.AppendUint(line, r.Seq, 10)
			line = append(line, ',')
			line = strconv.AppendInt(line, int64(r.Channel), 10)
			line = append(line, ',')
			line = strconv.AppendInt(line, int64(r.Value), 10)
			line = append(line, ',')
			line = strconv.AppendInt(line, int64(r.Width), 10)
		}
		line = append(line, '\n')

		n, err := f.writer.Write(line)
		if err != nil {
			f.errorCount.Add(1)
			f.logger.Error("Failed to write sample", "seq", r.Seq, "error", err)
			continue
		}
		f.samplesWritten.Add(1)
		f.bytesWritten.Add(int64(n))
	}
	if err := f.writer.Flush(); err != nil {
		f.errorCount.Add(1)
		f.logger.Error("Failed to flush recording", "error", err)
	}
}

// Health returns the current health status
func (f *Output) Health() health.Status {
	var st health.Status
	switch {
	case !f.running.Load():
		st = health.NewUnhealthy("file-output", "not recording")
	case f.errorCount.Load() > 0:
		st = health.NewDegraded("file-output", "write errors while recording")
	default:
		st = health.NewHealthy("file-output", "recording to "+f.path)
	}

	written := f.samplesWritten.Load()
	var errorRate float64
	if written > 0 {
		errorRate = float64(f.errorCount.Load()) / float64(written)
	}
	return st.WithMetrics(&health.Metrics{
		Uptime:            time.Since(f.startTime),
		ErrorCount:        f.errorCount.Load(),
		PayloadsProcessed: written,
		ErrorRate:         errorRate,
	})
}
