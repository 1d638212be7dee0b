package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Amanmahe/chords-demo/config"
	"github.com/Amanmahe/chords-demo/decoder"
	"github.com/Amanmahe/chords-demo/gateway"
	"github.com/Amanmahe/chords-demo/health"
	natsinput "github.com/Amanmahe/chords-demo/input/nats"
	"github.com/Amanmahe/chords-demo/input/replay"
	"github.com/Amanmahe/chords-demo/input/serial"
	"github.com/Amanmahe/chords-demo/input/udp"
	wsinput "github.com/Amanmahe/chords-demo/input/websocket"
	"github.com/Amanmahe/chords-demo/metric"
	"github.com/Amanmahe/chords-demo/mode"
	"github.com/Amanmahe/chords-demo/natsclient"
	"github.com/Amanmahe/chords-demo/output/chart"
	"github.com/Amanmahe/chords-demo/output/file"
	natsoutput "github.com/Amanmahe/chords-demo/output/nats"
	"github.com/Amanmahe/chords-demo/output/terminal"
	wsoutput "github.com/Amanmahe/chords-demo/output/websocket"
	"github.com/Amanmahe/chords-demo/pipeline"
	"github.com/Amanmahe/chords-demo/pkg/tlsutil"
	"github.com/Amanmahe/chords-demo/render"
	"github.com/Amanmahe/chords-demo/sample"
)

const (
	healthPollInterval = 2 * time.Second
	startAbortTimeout  = 2 * time.Second
)

// app owns every long-running part of one session
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	gateway   gateway.Gateway
	feed      *gateway.Feed
	buffer    *sample.Buffer
	pipeline  *pipeline.Pipeline
	scheduler *render.Scheduler
	monitor   *health.Monitor
	reporters map[string]health.Reporter
	server    *metric.Server

	websocket  *wsoutput.Output
	chart      *chart.Output
	recorder   *file.Output
	terminal   *terminal.Output
	natsOutput *natsoutput.Output
	natsClient *natsclient.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan error
	once   sync.Once
}

// newApp assembles the gateway, ingestion pipeline, render scheduler and
// enabled surfaces from cfg. Nothing runs until Start.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		monitor:   health.NewMonitor(),
		reporters: make(map[string]health.Reporter),
		done:      make(chan error, 1),
	}
	if cfg.Metrics.Enabled {
		a.registry = metric.NewMetricsRegistry()
	}

	gw, err := newGateway(cfg.Source, a.registry, logger)
	if err != nil {
		return nil, fmt.Errorf("create %s gateway: %w", cfg.Source.Type, err)
	}
	a.gateway = gw
	a.reporters["gateway"] = gw

	a.feed = gateway.NewFeed(cfg.Buffer.MaxPending, a.registry)

	var bufOpts []sample.BufferOption
	if a.registry != nil {
		bufOpts = append(bufOpts, sample.WithMetrics(a.registry))
	}
	if a.buffer, err = sample.NewBuffer(cfg.Buffer.Capacity, bufOpts...); err != nil {
		return nil, err
	}

	dec, err := decoder.New(cfg.Decoder)
	if err != nil {
		return nil, err
	}
	modes, err := mode.New(cfg.Modes.State())
	if err != nil {
		return nil, err
	}

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Config:          cfg.Pipeline,
		Buffer:          a.buffer,
		Decoder:         dec,
		Modes:           modes,
		Feed:            a.feed,
		MetricsRegistry: a.registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	a.reporters["pipeline"] = a.pipeline

	surfaces, err := a.buildSurfaces()
	if err != nil {
		return nil, err
	}

	a.scheduler, err = render.NewScheduler(render.Deps{
		Config:          cfg.Render,
		Source:          a.buffer,
		Modes:           modes,
		Signal:          a.pipeline,
		Surfaces:        surfaces,
		MetricsRegistry: a.registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	if a.registry != nil {
		tlsCfg, err := tlsutil.LoadServerConfig(cfg.Metrics.TLS)
		if err != nil {
			return nil, err
		}
		a.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry,
			health.Handler(a.monitor, appName)).WithTLS(tlsCfg)
		if a.websocket != nil {
			a.server.Handle(a.websocket.Path(), a.websocket.Handler())
		}
		if a.chart != nil {
			a.server.Handle(cfg.Surfaces.Chart.Route, a.chart.Handler())
		}
	}
	return a, nil
}

func newGateway(src config.SourceConfig, reg *metric.MetricsRegistry, logger *slog.Logger) (gateway.Gateway, error) {
	switch src.Type {
	case config.SourceSerial:
		return serial.NewInput(serial.InputDeps{Config: src.Serial, MetricsRegistry: reg, Logger: logger})
	case config.SourceUDP:
		return udp.NewInput(udp.InputDeps{Config: src.UDP, MetricsRegistry: reg, Logger: logger})
	case config.SourceWebsocket:
		return wsinput.NewInput(wsinput.InputDeps{Config: src.Websocket, MetricsRegistry: reg, Logger: logger})
	case config.SourceNATS:
		return natsinput.NewInput(natsinput.InputDeps{Config: src.NATS, MetricsRegistry: reg, Logger: logger})
	case config.SourceReplay:
		return replay.NewInput(replay.InputDeps{Config: src.Replay, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
}

// buildSurfaces creates every enabled surface in a fixed order
func (a *app) buildSurfaces() ([]render.Surface, error) {
	sc := a.cfg.Surfaces
	var surfaces []render.Surface

	if sc.Websocket.Enabled {
		out, err := wsoutput.NewOutput(wsoutput.OutputDeps{
			Config:          sc.Websocket.Config,
			Controls:        a.pipeline,
			MetricsRegistry: a.registry,
			Logger:          a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("websocket surface: %w", err)
		}
		a.websocket = out
		a.reporters["websocket"] = out
		surfaces = append(surfaces, out)
	}

	if sc.Chart.Enabled {
		out, err := chart.NewOutput(sc.Chart.Config, a.logger)
		if err != nil {
			return nil, fmt.Errorf("chart surface: %w", err)
		}
		a.chart = out
		surfaces = append(surfaces, out)
	}

	if sc.NATS.Enabled {
		url := sc.NATS.URL
		if url == "" {
			url = a.cfg.Source.NATS.URL
		}
		client, err := natsclient.NewClient(url,
			natsclient.WithName(appName+"-publisher"),
			natsclient.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("nats surface: %w", err)
		}
		out, err := natsoutput.NewOutput(natsoutput.OutputDeps{
			Config:          sc.NATS.Config,
			Client:          client,
			MetricsRegistry: a.registry,
			Logger:          a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("nats surface: %w", err)
		}
		a.natsClient = client
		a.natsOutput = out
		a.reporters["nats"] = out
		surfaces = append(surfaces, out)
	}

	if sc.File.Enabled {
		out, err := file.NewOutput(sc.File.Config, a.logger)
		if err != nil {
			return nil, fmt.Errorf("file surface: %w", err)
		}
		a.recorder = out
		a.reporters["file"] = out
		surfaces = append(surfaces, out)
	}

	if sc.Terminal.Enabled {
		out, err := terminal.NewOutput(sc.Terminal.Config, a.pipeline, a.logger)
		if err != nil {
			return nil, fmt.Errorf("terminal surface: %w", err)
		}
		a.terminal = out
		surfaces = append(surfaces, out)
	}
	return surfaces, nil
}

// Start launches every component. It returns once they are running.
func (a *app) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.recorder != nil {
		if err := a.recorder.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}
	if a.natsClient != nil {
		if err := a.natsClient.Connect(runCtx); err != nil {
			a.abortStart()
			return fmt.Errorf("connect nats surface: %w", err)
		}
	}

	a.goRun("pipeline", func() error { return a.pipeline.Run(runCtx) })
	a.goRun("scheduler", func() error { return a.scheduler.Run(runCtx) })
	a.goRun("health", func() error {
		a.monitor.Poll(runCtx, healthPollInterval, a.reporters)
		return nil
	})
	if a.server != nil {
		a.goRun("metrics-server", a.server.Start)
	}

	if err := a.gateway.Start(runCtx, a.feed); err != nil {
		a.abortStart()
		return err
	}

	if a.terminal != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.finish(a.terminal.Run(runCtx))
		}()
	}
	return nil
}

// abortStart releases what Start already acquired when a later step fails.
func (a *app) abortStart() {
	a.cancel()
	if a.server != nil {
		if err := a.server.Stop(); err != nil {
			a.logger.Warn("Failed to stop metrics server after start error", "error", err)
		}
	}
	if a.recorder != nil {
		if err := a.recorder.Stop(startAbortTimeout); err != nil {
			a.logger.Warn("Failed to close recording after start error", "error", err)
		}
	}
}

// goRun runs fn on a tracked goroutine. An error ends the session.
func (a *app) goRun(name string, fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(); err != nil {
			a.finish(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (a *app) finish(err error) {
	a.once.Do(func() { a.done <- err })
}

// Done delivers the first component failure, or nil when the terminal
// surface quits.
func (a *app) Done() <-chan error { return a.done }

// Stop shuts the session down in reverse start order: the transport first,
// then ingestion and rendering, then the surfaces that hold resources.
func (a *app) Stop(timeout time.Duration) error {
	var errs []error

	if err := a.gateway.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("stop gateway: %w", err))
	}
	a.feed.Close()
	if a.cancel != nil {
		a.cancel()
	}
	if a.server != nil {
		if err := a.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	if a.websocket != nil {
		if err := a.websocket.Close(timeout); err != nil {
			errs = append(errs, fmt.Errorf("close websocket surface: %w", err))
		}
	}

	waited := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(timeout):
		errs = append(errs, fmt.Errorf("components still running after %v", timeout))
	}

	if a.recorder != nil {
		if err := a.recorder.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop recorder: %w", err))
		}
	}
	if a.natsClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.natsClient.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close nats surface: %w", err))
		}
		cancel()
	}

	ps := a.pipeline.Stats()
	a.logger.Info("Session summary",
		"payloads", ps.Payloads,
		"samples", ps.Samples,
		"decode_errors", ps.DecodeErrors,
		"feed_dropped", a.feed.Dropped())
	return stderrors.Join(errs...)
}
