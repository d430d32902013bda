package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	qerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

// ToFilename writes a complete TOML snapshot of the configuration to path,
// creating parent directories as needed. The file is replaced atomically so a
// concurrent reader never observes a partial snapshot.
func (c *Config) ToFilename(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := c.Dumps()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temporary config file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config %s: %w", path, err)
	}
	return nil
}

// Dumps renders the configuration as TOML.
func (c *Config) Dumps() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return buf.String(), nil
}

// Load reads a configuration snapshot. The result replaces, never merges
// with, whatever configuration the caller held before.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.NewParseError(path, 0, err)
	}

	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return nil, qerrors.NewParseError(path, perr.Position.Line, err)
		}
		return nil, qerrors.NewParseError(path, 0, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, qerrors.NewValidationError(undecoded[0].String(), "unknown configuration key", nil)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
