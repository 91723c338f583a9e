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
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// DefaultPath returns ~/.planfit/planfit.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".planfit", "planfit.yaml"), nil
}

// Load reads and validates the config at path. An empty path means the
// default location, which is created with defaults on first use. An
// explicit path must exist.
func Load(path string) (*PlanfitConfig, error) {
	if path == "" {
		def, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = def
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
			if err := createDefault(path); err != nil {
				return nil, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. A models
// list in data replaces the default list as a whole.
func Parse(data []byte) (*PlanfitConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the rules tags cannot express.
func (c *PlanfitConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if sum := c.Split.Train + c.Split.Validation + c.Split.Test; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("invalid config: split fractions sum to %v, want 1", sum)
	}
	seen := make(map[string]bool)
	enabled := 0
	for _, m := range c.Models {
		if seen[m.Algorithm] {
			return fmt.Errorf("invalid config: model %s listed twice", m.Algorithm)
		}
		seen[m.Algorithm] = true
		if m.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return errors.New("invalid config: no model is enabled")
	}
	return nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg PlanfitConfig) error {
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

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
