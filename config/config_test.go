package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanmahe/chords-demo/input/serial"
	"github.com/Amanmahe/chords-demo/sample"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.getenv = func(k string) string { return env[k] }
	return l
}

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SourceSerial, cfg.Source.Type)
	assert.Equal(t, sample.BitModeAuto, cfg.Modes.BitMode)
	assert.True(t, cfg.Modes.GridView)
	assert.True(t, cfg.Modes.DisplayEnabled)
	assert.Equal(t, serial.FramingBinary, cfg.Source.Serial.Framing)
	assert.True(t, cfg.Surfaces.Websocket.Enabled)
}

func TestLoader_JSONLayer(t *testing.T) {
	path := writeFile(t, "chords.json", `{
		"source": {"type": "udp", "udp": {"port": 6000}},
		"render": {"interval": "33ms"},
		"modes": {"bit_mode": "twelve", "grid_view": false},
		"pipeline": {"health": {"window": "10s"}}
	}`)

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, SourceUDP, cfg.Source.Type)
	assert.Equal(t, 6000, cfg.Source.UDP.Port)
	assert.Equal(t, "0.0.0.0", cfg.Source.UDP.Bind, "unnamed keys keep their defaults")
	assert.Equal(t, 33*time.Millisecond, cfg.Render.Interval)
	assert.Equal(t, 500, cfg.Render.GridWindow)
	assert.Equal(t, sample.BitModeTwelve, cfg.Modes.BitMode)
	assert.False(t, cfg.Modes.GridView)
	assert.True(t, cfg.Modes.DisplayEnabled)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.Quality.Window)
}

func TestLoader_YAMLLayerAndEmbeddedSurfaces(t *testing.T) {
	path := writeFile(t, "chords.yaml", `
source:
  type: replay
  replay:
    path: capture.txt
    interval: 1ms
    loop: true
modes:
  bit_mode: 14
surfaces:
  chart:
    enabled: true
    min_interval: 2s
    width: 800
  file:
    enabled: true
    directory: out
    flush_interval: 1d
decoder:
  auto:
    fallback: 10
`)
	loader := newTestLoader(nil)
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "capture.txt", cfg.Source.Replay.Path)
	assert.Equal(t, time.Millisecond, cfg.Source.Replay.Interval)
	assert.True(t, cfg.Source.Replay.Loop)
	assert.Equal(t, sample.BitModeFourteen, cfg.Modes.BitMode)
	assert.Equal(t, sample.BitModeTen, cfg.Decoder.Auto.Fallback)
	assert.True(t, cfg.Surfaces.Chart.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Surfaces.Chart.MinInterval)
	assert.Equal(t, 800, cfg.Surfaces.Chart.Width)
	assert.Equal(t, 400, cfg.Surfaces.Chart.Height)
	assert.Equal(t, "out", cfg.Surfaces.File.Directory)
	assert.Equal(t, 24*time.Hour, cfg.Surfaces.File.FlushInterval)
}

func TestLoader_LayersApplyInOrder(t *testing.T) {
	base := writeFile(t, "base.json", `{"source": {"type": "udp"}, "buffer": {"capacity": 1000}}`)
	override := writeFile(t, "override.yml", "buffer:\n  capacity: 2000\n")

	loader := newTestLoader(nil)
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, SourceUDP, cfg.Source.Type)
	assert.Equal(t, 2000, cfg.Buffer.Capacity)
}

func TestLoader_EnvOverrides(t *testing.T) {
	cfg, err := newTestLoader(map[string]string{
		"CHORDS_SOURCE_TYPE":  "nats",
		"CHORDS_SERIAL_PORT":  "/dev/ttyACM0",
		"CHORDS_NATS_URL":     "nats://broker:4222",
		"CHORDS_BIT_MODE":     "10",
		"CHORDS_METRICS_PORT": "9191",
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, SourceNATS, cfg.Source.Type)
	assert.Equal(t, "/dev/ttyACM0", cfg.Source.Serial.Port)
	assert.Equal(t, "nats://broker:4222", cfg.Source.NATS.URL)
	assert.Equal(t, "nats://broker:4222", cfg.Surfaces.NATS.URL)
	assert.Equal(t, sample.BitModeTen, cfg.Modes.BitMode)
	assert.Equal(t, 9191, cfg.Metrics.Port)
}

func TestLoader_EnvErrors(t *testing.T) {
	tests := map[string]map[string]string{
		"bad bit mode":       {"CHORDS_BIT_MODE": "16"},
		"bad port":           {"CHORDS_METRICS_PORT": "ninety"},
		"port out of range":  {"CHORDS_METRICS_PORT": "70000"},
		"null byte port":     {"CHORDS_SERIAL_PORT": "/dev/tty\x00"},
		"space in port":      {"CHORDS_SERIAL_PORT": "/dev/tty ACM0"},
		"unknown source":     {"CHORDS_SOURCE_TYPE": "bluetooth"},
		"nats url scheme":    {"CHORDS_NATS_URL": "http://broker:4222"},
		"nats url with host": {"CHORDS_NATS_URL": "nats://"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := newTestLoader(env).Load()
			assert.Error(t, err)
		})
	}
}

func TestLoader_FileErrors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
	t.Run("wrong extension", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile(writeFile(t, "chords.toml", "x = 1"))
		assert.Error(t, err)
	})
	t.Run("malformed json", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile(writeFile(t, "chords.json", `{"source": `))
		assert.Error(t, err)
	})
	t.Run("directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "conf.json")
		require.NoError(t, os.Mkdir(dir, 0o700))
		_, err := newTestLoader(nil).LoadFile(dir)
		assert.Error(t, err)
	})
	t.Run("too large", func(t *testing.T) {
		big := `{"version": "` + strings.Repeat("x", maxConfigSize) + `"}`
		_, err := newTestLoader(nil).LoadFile(writeFile(t, "big.json", big))
		assert.Error(t, err)
	})
	t.Run("malformed yaml", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile(writeFile(t, "chords.yaml", "source: [unclosed"))
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Source.Type = "bluetooth" }},
		{"bad serial", func(c *Config) { c.Source.Serial.BaudRate = 0 }},
		{"replay loops stdin", func(c *Config) { c.Source.Type = SourceReplay; c.Source.Replay.Loop = true }},
		{"zero capacity", func(c *Config) { c.Buffer.Capacity = 0 }},
		{"grid window beyond capacity", func(c *Config) { c.Render.GridWindow = c.Buffer.Capacity + 1 }},
		{"bad render interval", func(c *Config) { c.Render.Interval = 0 }},
		{"bad decoder fallback", func(c *Config) { c.Decoder.Auto.Fallback = sample.BitModeAuto }},
		{"chart route", func(c *Config) { c.Surfaces.Chart.Enabled = true; c.Surfaces.Chart.Route = "chart" }},
		{"websocket without listener", func(c *Config) { c.Metrics.Enabled = false }},
		{"nats surface without url", func(c *Config) {
			c.Surfaces.NATS.Enabled = true
			c.Source.NATS.URL = ""
		}},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }},
		{"tls without key pair", func(c *Config) { c.Metrics.TLS.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("source type is normalized", func(t *testing.T) {
		cfg := Defaults()
		cfg.Source.Type = " UDP "
		require.NoError(t, cfg.Validate())
		assert.Equal(t, SourceUDP, cfg.Source.Type)
	})
}

func TestConfig_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	cfg := Defaults()
	cfg.Modes.BitMode = sample.BitModeTwelve
	cfg.Render.Interval = 20 * time.Millisecond
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoader_EnvSourceTypeNormalized(t *testing.T) {
	cfg, err := newTestLoader(map[string]string{"CHORDS_SOURCE_TYPE": " Replay "}).Load()
	require.NoError(t, err)
	assert.Equal(t, SourceReplay, cfg.Source.Type)
}

func TestConfig_SaveRejectsYAML(t *testing.T) {
	assert.Error(t, Defaults().SaveToFile(filepath.Join(t.TempDir(), "saved.yaml")))
	assert.Error(t, Defaults().SaveToFile(filepath.Join(t.TempDir(), "saved.toml")))
}

func TestModesConfig_State(t *testing.T) {
	st := ModesConfig{BitMode: sample.BitModeTen, GridView: true}.State()
	assert.Equal(t, sample.BitModeTen, st.BitMode)
	assert.True(t, st.GridView)
	assert.False(t, st.DisplayEnabled)
}
