package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxConfigSize bounds a config file. A full chords config is a few KB.
const maxConfigSize = 1 << 20

// File formats the Loader parses
const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// formatOf maps a config path to the parser chosen by its extension
func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("config file must be .json, .yaml or .yml: %s", path)
	}
}

// readConfigFile reads a regular file no larger than maxConfigSize and
// reports which parser applies
func readConfigFile(path string) ([]byte, string, error) {
	if path == "" {
		return nil, "", errors.New("empty config path")
	}
	format, err := formatOf(path)
	if err != nil {
		return nil, "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, "", fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, "", fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("cannot read config file: %w", err)
	}
	return data, format, nil
}

// writeConfigFile writes JSON produced by SaveToFile. Only .json targets are
// accepted so the saved file loads back through the same parser.
func writeConfigFile(path string, data []byte) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}
	if format != formatJSON {
		return fmt.Errorf("SaveToFile writes JSON, got %s", path)
	}
	return os.WriteFile(path, data, 0o600)
}
