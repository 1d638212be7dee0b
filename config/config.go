package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Amanmahe/chords-demo/decoder"
	natsinput "github.com/Amanmahe/chords-demo/input/nats"
	"github.com/Amanmahe/chords-demo/input/replay"
	"github.com/Amanmahe/chords-demo/input/serial"
	"github.com/Amanmahe/chords-demo/input/udp"
	wsinput "github.com/Amanmahe/chords-demo/input/websocket"
	"github.com/Amanmahe/chords-demo/mode"
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

// Source types
const (
	SourceSerial    = "serial"
	SourceUDP       = "udp"
	SourceWebsocket = "websocket"
	SourceNATS      = "nats"
	SourceReplay    = "replay"
)

// Config represents the complete application configuration
type Config struct {
	Version  string          `json:"version"`
	Source   SourceConfig    `json:"source"`
	Decoder  decoder.Config  `json:"decoder"`
	Buffer   BufferConfig    `json:"buffer"`
	Pipeline pipeline.Config `json:"pipeline"`
	Render   render.Config   `json:"render"`
	Modes    ModesConfig     `json:"modes"`
	Surfaces SurfacesConfig  `json:"surfaces"`
	Metrics  MetricsConfig   `json:"metrics"`
}

// SourceConfig selects the gateway. Only the section named by Type is used.
type SourceConfig struct {
	Type      string           `json:"type"`
	Serial    serial.Config    `json:"serial"`
	UDP       udp.InputConfig  `json:"udp"`
	Websocket wsinput.Config   `json:"websocket"`
	NATS      natsinput.Config `json:"nats"`
	Replay    replay.Config    `json:"replay"`
}

// BufferConfig sizes the sample buffer and the gateway feed
type BufferConfig struct {
	Capacity   int `json:"capacity"`
	MaxPending int `json:"max_pending"`
}

// ModesConfig is the startup mode state
type ModesConfig struct {
	BitMode        sample.BitMode `json:"bit_mode"`
	GridView       bool           `json:"grid_view"`
	DisplayEnabled bool           `json:"display_enabled"`
}

// State converts the startup modes into a controller state
func (m ModesConfig) State() mode.State {
	return mode.State{BitMode: m.BitMode, GridView: m.GridView, DisplayEnabled: m.DisplayEnabled}
}

// SurfacesConfig enables render surfaces
type SurfacesConfig struct {
	Websocket WebsocketSurface `json:"websocket"`
	Chart     ChartSurface     `json:"chart"`
	NATS      NATSSurface      `json:"nats"`
	Terminal  TerminalSurface  `json:"terminal"`
	File      FileSurface      `json:"file"`
}

// WebsocketSurface enables the browser websocket surface
type WebsocketSurface struct {
	Enabled bool `json:"enabled"`
	wsoutput.Config
}

// ChartSurface enables the PNG chart surface, served at Route
type ChartSurface struct {
	Enabled bool   `json:"enabled"`
	Route   string `json:"route"`
	chart.Config
}

// NATSSurface enables publishing samples to NATS. URL defaults to the NATS
// source URL when empty.
type NATSSurface struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	natsoutput.Config
}

// TerminalSurface enables the terminal sparkline surface
type TerminalSurface struct {
	Enabled bool `json:"enabled"`
	terminal.Config
}

// FileSurface enables the sample recorder
type FileSurface struct {
	Enabled bool `json:"enabled"`
	file.Config
}

// MetricsConfig configures the /metrics and /health listener, which also
// hosts the websocket and chart routes
type MetricsConfig struct {
	Enabled bool                 `json:"enabled"`
	Port    int                  `json:"port"`
	Path    string               `json:"path"`
	TLS     tlsutil.ServerConfig `json:"tls"`
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	c.Source.Type = strings.ToLower(strings.TrimSpace(c.Source.Type))

	var err error
	switch c.Source.Type {
	case SourceSerial:
		err = c.Source.Serial.Validate()
	case SourceUDP:
		err = c.Source.UDP.Validate()
	case SourceWebsocket:
		err = c.Source.Websocket.Validate()
	case SourceNATS:
		err = c.Source.NATS.Validate()
	case SourceReplay:
		err = c.Source.Replay.Validate()
	default:
		return fmt.Errorf("source.type %q must be one of serial, udp, websocket, nats, replay", c.Source.Type)
	}
	if err != nil {
		return fmt.Errorf("source.%s: %w", c.Source.Type, err)
	}

	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if c.Buffer.Capacity <= 0 {
		return errors.New("buffer.capacity must be positive")
	}
	if c.Buffer.MaxPending < 0 {
		return errors.New("buffer.max_pending cannot be negative")
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Render.Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if c.Render.GridWindow > c.Buffer.Capacity {
		return fmt.Errorf("render.grid_window %d exceeds buffer.capacity %d", c.Render.GridWindow, c.Buffer.Capacity)
	}
	if !c.Modes.BitMode.Valid() {
		return fmt.Errorf("modes.bit_mode %d is not a known mode", uint8(c.Modes.BitMode))
	}

	return c.validateSurfaces()
}

func (c *Config) validateSurfaces() error {
	s := c.Surfaces
	if s.Websocket.Enabled {
		if err := s.Websocket.Validate(); err != nil {
			return fmt.Errorf("surfaces.websocket: %w", err)
		}
	}
	if s.Chart.Enabled {
		if err := s.Chart.Validate(); err != nil {
			return fmt.Errorf("surfaces.chart: %w", err)
		}
		if !strings.HasPrefix(s.Chart.Route, "/") {
			return fmt.Errorf("surfaces.chart.route must start with /, got %q", s.Chart.Route)
		}
	}
	if s.NATS.Enabled {
		if err := s.NATS.Validate(); err != nil {
			return fmt.Errorf("surfaces.nats: %w", err)
		}
		if s.NATS.URL == "" && c.Source.NATS.URL == "" {
			return errors.New("surfaces.nats.url is required")
		}
	}
	if s.Terminal.Enabled {
		if err := s.Terminal.Validate(); err != nil {
			return fmt.Errorf("surfaces.terminal: %w", err)
		}
	}
	if s.File.Enabled {
		if err := s.File.Validate(); err != nil {
			return fmt.Errorf("surfaces.file: %w", err)
		}
	}
	if (s.Websocket.Enabled || s.Chart.Enabled) && !c.Metrics.Enabled {
		return errors.New("surfaces.websocket and surfaces.chart need metrics.enabled for their HTTP listener")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Enabled {
		if err := c.Metrics.TLS.Validate(); err != nil {
			return fmt.Errorf("metrics.tls: %w", err)
		}
	}
	return nil
}

// Defaults returns the configuration used when no file is given: the serial
// board, auto width, grid view on, display on, websocket dashboard on :9090.
func Defaults() *Config {
	modes := mode.Default()
	return &Config{
		Version: "1.0.0",
		Source: SourceConfig{
			Type:      SourceSerial,
			Serial:    serial.DefaultConfig(),
			UDP:       udp.DefaultConfig(),
			Websocket: wsinput.DefaultConfig(),
			NATS:      natsinput.DefaultConfig(),
			Replay:    replay.DefaultConfig(),
		},
		Decoder:  decoder.DefaultConfig(),
		Buffer:   BufferConfig{Capacity: 6000, MaxPending: 4096},
		Pipeline: pipeline.DefaultConfig(),
		Render:   render.DefaultConfig(),
		Modes: ModesConfig{
			BitMode:        modes.BitMode,
			GridView:       modes.GridView,
			DisplayEnabled: modes.DisplayEnabled,
		},
		Surfaces: SurfacesConfig{
			Websocket: WebsocketSurface{Enabled: true, Config: wsoutput.DefaultConfig()},
			Chart:     ChartSurface{Route: "/chart.png", Config: chart.DefaultConfig()},
			NATS:      NATSSurface{Config: natsoutput.DefaultConfig()},
			Terminal:  TerminalSurface{Config: terminal.DefaultConfig()},
			File:      FileSurface{Config: file.DefaultConfig()},
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
	}
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "CHORDS",
		getenv:     os.Getenv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers over the defaults
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged, err := l.mergeFromMap(cfg, rawConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to apply %s: %w", path, err)
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw loads a JSON or YAML file as a map, chosen by extension
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, format, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var rawConfig map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &rawConfig); err != nil {
			return nil, err
		}
	}

	normalize(rawConfig, reflect.TypeOf(Config{}))
	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	bitModeType  = reflect.TypeOf(sample.BitMode(0))
)

// normalize rewrites file values into the JSON form Config decodes: duration
// strings ("16ms", "2d") become nanoseconds and numeric bit modes (12)
// become their text form. Embedded structs contribute their fields at the
// same level.
func normalize(data map[string]any, t reflect.Type) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Tag.Get("json") == "" {
			normalize(data, f.Type)
			continue
		}
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		v, ok := data[name]
		if !ok {
			continue
		}
		switch {
		case f.Type == durationType:
			if s, ok := v.(string); ok {
				if d, err := parseDurationWithDays(s); err == nil {
					data[name] = d.Nanoseconds()
				}
			}
		case f.Type == bitModeType:
			switch n := v.(type) {
			case int:
				data[name] = strconv.Itoa(n)
			case float64:
				data[name] = strconv.FormatFloat(n, 'f', -1, 64)
			}
		case f.Type.Kind() == reflect.Struct:
			if nested, ok := v.(map[string]any); ok {
				normalize(nested, f.Type)
			}
		}
	}
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// envOverride parses one CHORDS_* variable into cfg
type envOverride struct {
	key   string
	apply func(cfg *Config, val string) error
}

var envOverrides = []envOverride{
	{"SOURCE_TYPE", func(cfg *Config, val string) error {
		t := strings.ToLower(strings.TrimSpace(val))
		switch t {
		case SourceSerial, SourceUDP, SourceWebsocket, SourceNATS, SourceReplay:
			cfg.Source.Type = t
			return nil
		}
		return fmt.Errorf("unknown source type %q", val)
	}},
	{"SERIAL_PORT", func(cfg *Config, val string) error {
		if strings.ContainsFunc(val, func(r rune) bool { return r == 0 || r == ' ' || r == '\t' || r == '\n' }) {
			return fmt.Errorf("serial port %q contains whitespace or NUL", val)
		}
		cfg.Source.Serial.Port = val
		return nil
	}},
	{"NATS_URL", func(cfg *Config, val string) error {
		u, err := url.Parse(val)
		if err != nil {
			return err
		}
		switch u.Scheme {
		case "nats", "tls", "ws", "wss":
		default:
			return fmt.Errorf("nats url scheme must be nats, tls, ws or wss, got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("nats url %q has no host", val)
		}
		cfg.Source.NATS.URL = val
		cfg.Surfaces.NATS.URL = val
		return nil
	}},
	{"BIT_MODE", func(cfg *Config, val string) error {
		m, err := sample.ParseBitMode(val)
		if err != nil {
			return err
		}
		cfg.Modes.BitMode = m
		return nil
	}},
	{"METRICS_PORT", func(cfg *Config, val string) error {
		port, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("port %d out of range", port)
		}
		cfg.Metrics.Port = port
		return nil
	}},
}

// applyEnvOverrides applies the CHORDS_* environment overrides. Unset
// variables leave cfg unchanged.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		name := l.envPrefix + "_" + o.key
		val := l.getenv(name)
		if val == "" {
			continue
		}
		if err := o.apply(cfg, val); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// SaveToFile saves the configuration to a .json file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeConfigFile(path, data)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
