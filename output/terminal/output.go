package terminal

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/pipeline"
	"github.com/Amanmahe/chords-demo/render"
)

// Config holds configuration for the terminal surface
type Config struct {
	Refresh   time.Duration `json:"refresh" yaml:"refresh"`
	AltScreen bool          `json:"alt_screen" yaml:"alt_screen"`
}

// DefaultConfig redraws 20 times a second on the alternate screen
func DefaultConfig() Config {
	return Config{Refresh: 50 * time.Millisecond, AltScreen: true}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Refresh <= 0 {
		return errors.WrapInvalid(fmt.Errorf("refresh must be positive, got %s", c.Refresh),
			"terminal-output", "Validate", "check refresh")
	}
	return nil
}

// Output is a render surface that draws one sparkline per channel in the
// terminal. Render only stores the frame; the bubbletea program picks it up
// on its own refresh tick, so a slow terminal never holds up the scheduler.
type Output struct {
	config   Config
	controls pipeline.Controls
	logger   *slog.Logger
	latest   atomic.Pointer[render.Frame]

	// for tests; nil uses the process terminal
	input  io.Reader
	output io.Writer
}

var _ render.Surface = (*Output)(nil)

// NewOutput creates the terminal surface
func NewOutput(cfg Config, controls pipeline.Controls, logger *slog.Logger) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if controls == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "terminal-output", "NewOutput", "check controls")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{config: cfg, controls: controls, logger: logger.With("component", "terminal-output")}, nil
}

// Name identifies the surface in scheduler logs
func (o *Output) Name() string { return "terminal" }

// Render keeps the frame for the next redraw
func (o *Output) Render(_ context.Context, f render.Frame) error {
	o.latest.Store(&f)
	return nil
}

func (o *Output) latestFrame() (render.Frame, bool) {
	f := o.latest.Load()
	if f == nil {
		return render.Frame{}, false
	}
	return *f, true
}

// Run drives the terminal until the user quits or ctx is done. A quit key
// returns nil so the caller can begin shutdown.
func (o *Output) Run(ctx context.Context) error {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if o.config.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if o.input != nil {
		opts = append(opts, tea.WithInput(o.input))
	}
	if o.output != nil {
		opts = append(opts, tea.WithOutput(o.output))
	}

	p := tea.NewProgram(newModel(o.controls, o.latestFrame, o.config.Refresh), opts...)
	o.logger.Debug("Terminal surface started")
	if _, err := p.Run(); err != nil && !stderrors.Is(err, tea.ErrProgramKilled) {
		return errors.WrapTransient(err, "terminal-output", "Run", "run program")
	}
	return nil
}
