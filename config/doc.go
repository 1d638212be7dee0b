// Package config loads the application configuration.
//
// Loading starts from Defaults, merges each file layer in order (JSON, or
// YAML for .yaml/.yml files), then applies environment overrides:
//
//	CHORDS_SOURCE_TYPE    source.type
//	CHORDS_SERIAL_PORT    source.serial.port
//	CHORDS_NATS_URL       source.nats.url and surfaces.nats.url
//	CHORDS_BIT_MODE       modes.bit_mode (auto, ten, 12, ...)
//	CHORDS_METRICS_PORT   metrics.port
//
// A layer only overrides the keys it names, so a file can be as small as:
//
//	source:
//	  type: udp
//	  udp:
//	    port: 5005
//	render:
//	  interval: 33ms
//
// Durations accept Go syntax plus a day suffix ("2d"). Bit modes accept a
// name or a width.
//
//	loader := config.NewLoader()
//	loader.AddLayer("chords.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
package config
