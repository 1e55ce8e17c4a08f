// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a config file that parsed but failed validation.
var ErrInvalid = errors.New("invalid config")

// DefaultPath returns ~/.simdeck/simdeck.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".simdeck", "simdeck.yaml"), nil
}

// Load reads, defaults and validates the config at path.
//
// # Description
//
// When path does not exist, a file holding DefaultConfig is written first
// and a one-line notice goes to notice (may be nil). Keys missing from the
// file keep their defaults, so a file that only sets backend.base_url is
// valid.
//
// # Inputs
//
//   - path: Config file; "" means DefaultPath
//   - notice: Receives the first-run message
//
// # Outputs
//
//   - SimdeckConfig: The merged configuration
//   - error: Read, parse or validation failure (validation wraps ErrInvalid)
func Load(path string, notice io.Writer) (SimdeckConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return SimdeckConfig{}, err
		}
		path = p
	}
	path = ExpandPath(path)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if notice != nil {
			fmt.Fprintf(notice, " First run detected, creating the config at %s\n", path)
		}
		if err := createDefault(path); err != nil {
			return SimdeckConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return SimdeckConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig and validates the result.
func Parse(data []byte) (SimdeckConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SimdeckConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return SimdeckConfig{}, err
	}
	return cfg, nil
}

// Validate checks struct tags plus the rules tags cannot express.
func Validate(cfg SimdeckConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, _, err := net.SplitHostPort(cfg.Viewer.Addr); err != nil {
		return fmt.Errorf("%w: viewer.addr %q: %v", ErrInvalid, cfg.Viewer.Addr, err)
	}
	if !cfg.Platforms.Twitter && !cfg.Platforms.Reddit {
		return fmt.Errorf("%w: at least one platform must be enabled", ErrInvalid)
	}
	if cfg.Backend.MaxDelay > 0 && cfg.Backend.MaxDelay < cfg.Backend.BaseDelay {
		return fmt.Errorf("%w: backend.max_delay is shorter than backend.base_delay", ErrInvalid)
	}
	return nil
}

// Save writes cfg to path, creating the directory.
func Save(path string, cfg SimdeckConfig) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func createDefault(path string) error {
	return Save(path, DefaultConfig())
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
