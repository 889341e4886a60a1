// Package config loads strobe's YAML configuration file and applies
// STROBE_* environment overrides on top of the defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/strobe/internal/constants"
	"github.com/coral-mesh/strobe/internal/safe"
)

// Loader locates the config file.
type Loader struct {
	dir string
}

// NewLoader creates a loader. The directory holding config.yaml is, in
// order: $STROBE_CONFIG, ~/.strobe, or /tmp/strobe-fallback when there is no
// home directory (minimal containers). In the last case no file exists and
// Load returns defaults with env overrides.
func NewLoader() *Loader {
	if dir := os.Getenv(constants.EnvConfig); dir != "" {
		return &Loader{dir: dir}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return &Loader{dir: filepath.Join(home, constants.DefaultDir)}
	}
	return &Loader{dir: "/tmp/strobe-fallback"}
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return filepath.Join(l.dir, constants.ConfigFile)
}

// Load reads the config file if it exists. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	path := l.Path()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return FromReader(nil)
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path, which must exist.
func LoadFile(path string) (*Config, error) {
	data, err := safe.ReadFile(path, &safe.ReadOptions{AllowSymlinks: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := FromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FromReader decodes YAML from r over the defaults, applies environment
// overrides and validates the result. A nil r yields defaults plus
// overrides. Unknown keys are rejected.
func FromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if r != nil {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
