// Package config provides configuration loading and management for segeval.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Evaluation parameters
	Evaluation struct {
		// ToleranceDistanceThreshold is the maximum allowed boundary shift in nanometers
		ToleranceDistanceThreshold float64 `yaml:"toleranceDistanceThreshold"`

		// Pitch is the physical voxel spacing in nanometers
		Pitch struct {
			X float64 `yaml:"x"`
			Y float64 `yaml:"y"`
			Z float64 `yaml:"z"`
		} `yaml:"pitch"`

		// GtBackgroundLabel optionally marks a ground truth label as background
		GtBackgroundLabel *float64 `yaml:"gtBackgroundLabel"`

		// RecBackgroundLabel optionally marks a reconstruction label as background
		RecBackgroundLabel *float64 `yaml:"recBackgroundLabel"`
	} `yaml:"evaluation"`

	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many distance fields to compute concurrently
		NumWorkers int `yaml:"numWorkers"`

		// SolverNodeLimit bounds the branch and bound search
		SolverNodeLimit int `yaml:"solverNodeLimit"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveCorrected determines whether the corrected reconstruction stack is written
		SaveCorrected bool `yaml:"saveCorrected"`

		// SaveErrorLocations determines whether the error location stacks are written
		SaveErrorLocations bool `yaml:"saveErrorLocations"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns the standard parameters: a 100 nm tolerance on a
// 1x1x10 nm serial-section grid, one worker per core
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Evaluation.ToleranceDistanceThreshold = 100
	cfg.Evaluation.Pitch.X = 1
	cfg.Evaluation.Pitch.Y = 1
	cfg.Evaluation.Pitch.Z = 10

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.SolverNodeLimit = 200000

	cfg.Output.SaveCorrected = true
	cfg.Output.SaveErrorLocations = false
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig reads the configuration from a YAML file and overlays it on the
// defaults, so a partial file only overrides the keys it names. A missing
// file is not an error; the defaults apply unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration as YAML, creating parent directories
// as needed
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	return nil
}

// CreateDefaultConfigFile writes the default configuration to path, giving
// users a template with every key present
func CreateDefaultConfigFile(path string) error {
	return SaveConfig(DefaultConfig(), path)
}
