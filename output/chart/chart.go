package chart

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/render"
	"github.com/Amanmahe/chords-demo/sample"
)

// Config holds configuration for the chart surface
type Config struct {
	// File is rewritten with every chart; empty keeps charts in memory only
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	// MinInterval limits how often a chart is drawn
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`
	// GridDivisions is the number of major grid cells per axis in grid view
	GridDivisions int `json:"grid_divisions" yaml:"grid_divisions"`
}

// DefaultConfig returns a 1024x400 chart redrawn once a second
func DefaultConfig() Config {
	return Config{Width: 1024, Height: 400, MinInterval: time.Second, GridDivisions: 8}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Width < 64 || c.Height < 64 {
		return errors.WrapInvalid(fmt.Errorf("chart must be at least 64x64, got %dx%d", c.Width, c.Height),
			"chart-output", "Validate", "check size")
	}
	if c.MinInterval < 0 {
		return errors.WrapInvalid(fmt.Errorf("min_interval cannot be negative"),
			"chart-output", "Validate", "check interval")
	}
	if c.GridDivisions < 1 {
		return errors.WrapInvalid(fmt.Errorf("grid_divisions must be at least 1"),
			"chart-output", "Validate", "check grid")
	}
	return nil
}

var gridStyle = gochart.Style{
	StrokeColor: drawing.ColorFromHex("d0d0d0"),
	StrokeWidth: 1.0,
}

// Output renders frames to PNG charts, one line per channel.
type Output struct {
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	latest []byte
	at     time.Time

	lastDraw time.Time // render goroutine only
	lastEnd  uint64
	lastGen  uint64
	lastGrid bool
	drawn    atomic.Int64
}

var _ render.Surface = (*Output)(nil)

// NewOutput creates the chart surface
func NewOutput(cfg Config, logger *slog.Logger) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{config: cfg, logger: logger.With("component", "chart-output")}, nil
}

// Name identifies the surface in scheduler logs
func (o *Output) Name() string { return "chart" }

// Render draws the frame unless it is too soon or nothing changed. An empty
// window leaves the previous chart in place.
func (o *Output) Render(ctx context.Context, f render.Frame) error {
	if !o.lastDraw.IsZero() && time.Since(o.lastDraw) < o.config.MinInterval {
		return nil
	}
	if o.drawn.Load() > 0 && f.Window.Generation == o.lastGen && f.Window.End == o.lastEnd && f.GridView == o.lastGrid {
		return nil
	}

	c, ok := o.build(f)
	if !ok {
		return nil
	}
	var buf bytes.Buffer
	if err := c.Render(gochart.PNG, &buf); err != nil {
		return errors.WrapTransient(err, "chart-output", "Render", "draw chart")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if o.config.File != "" {
		if err := writeAtomic(o.config.File, buf.Bytes()); err != nil {
			return errors.WrapTransient(err, "chart-output", "Render", "write chart file")
		}
	}

	o.mu.Lock()
	o.latest = buf.Bytes()
	o.at = f.Timestamp
	o.mu.Unlock()

	o.lastDraw = time.Now()
	o.lastGen, o.lastEnd, o.lastGrid = f.Window.Generation, f.Window.End, f.GridView
	o.drawn.Add(1)
	return nil
}

// build assembles the chart; false means there is nothing drawable.
func (o *Output) build(f render.Frame) (gochart.Chart, bool) {
	series := make(map[int][]sample.Sample)
	for _, s := range f.Window.Samples {
		series[s.Channel] = append(series[s.Channel], s)
	}

	var lines []gochart.Series
	for _, ch := range f.Window.Channels() {
		points := series[ch]
		if len(points) < 2 {
			continue
		}
		xs := make([]float64, len(points))
		ys := make([]float64, len(points))
		for k, s := range points {
			xs[k] = float64(s.Seq)
			ys[k] = float64(s.Value)
		}
		lines = append(lines, gochart.ContinuousSeries{
			Name:    "ch" + strconv.Itoa(ch),
			XValues: xs,
			YValues: ys,
			Style: gochart.Style{
				StrokeColor: gochart.GetDefaultColor(ch),
				StrokeWidth: 1.5,
			},
		})
	}
	if len(lines) == 0 {
		return gochart.Chart{}, false
	}

	width := f.Window.Width()
	if f.BitMode.IsFixed() {
		width = f.BitMode
	}
	ymax := float64(sample.BitModeFourteen.Max())
	if width.IsFixed() {
		ymax = float64(width.Max())
	}
	xmin := float64(f.Window.Samples[0].Seq)
	xmax := float64(f.Window.Samples[len(f.Window.Samples)-1].Seq)

	c := gochart.Chart{
		Width:      o.config.Width,
		Height:     o.config.Height,
		Background: gochart.Style{Padding: gochart.Box{Top: 20, Left: 16, Right: 12, Bottom: 16}},
		XAxis: gochart.XAxis{
			Name:  "sample",
			Range: &gochart.ContinuousRange{Min: xmin, Max: xmax},
		},
		YAxis: gochart.YAxis{
			Name:  width.String(),
			Range: &gochart.ContinuousRange{Min: 0, Max: ymax},
		},
		Series: lines,
	}

	if f.GridView {
		c.XAxis.GridMajorStyle = gridStyle
		c.YAxis.GridMajorStyle = gridStyle
		c.XAxis.GridLines = gridLines(xmin, xmax, o.config.GridDivisions)
		c.YAxis.GridLines = gridLines(0, ymax, o.config.GridDivisions)
	} else {
		c.XAxis.GridMajorStyle = gochart.Style{Hidden: true}
		c.YAxis.GridMajorStyle = gochart.Style{Hidden: true}
	}
	if len(lines) > 1 {
		c.Elements = []gochart.Renderable{gochart.Legend(&c)}
	}
	return c, true
}

func gridLines(min, max float64, divisions int) []gochart.GridLine {
	step := (max - min) / float64(divisions)
	lines := make([]gochart.GridLine, 0, divisions+1)
	for k := 0; k <= divisions; k++ {
		lines = append(lines, gochart.GridLine{Value: min + float64(k)*step})
	}
	return lines
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chart-*.png")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Latest returns the most recent PNG and the frame time it shows.
func (o *Output) Latest() ([]byte, time.Time, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.latest, o.at, o.latest != nil
}

// Handler serves the most recent chart as image/png
func (o *Output) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		data, at, ok := o.Latest()
		if !ok {
			http.Error(w, "no chart rendered yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
		_, _ = w.Write(data)
	})
}
