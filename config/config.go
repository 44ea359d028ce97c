// Package config turns the positional startup parameters into a
// validated configuration, optionally overlaid with tuning values from a
// YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/zpipeio/zpipe/internal/core/services/pipeline"
	"github.com/zpipeio/zpipe/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Usage is the positional parameter contract, in order.
const Usage = "usage: zpipe WORKERS LEVEL PATH_PREFIX"

// Config holds everything the process needs to run. The three positional
// parameters mirror the invocation contract; the yaml-tagged fields are
// tuning knobs with safe defaults, settable through the file named by
// the ZPIPE_CONFIG environment variable.
type Config struct {
	Workers    int    `yaml:"-"` // Engine worker count (>= 1; 1 means single-threaded).
	Level      int    `yaml:"-"` // Compression level (>= 1, recommended 1-19).
	PathPrefix string `yaml:"-"` // Output files are named <prefix>.<pid>.<timestamp>.

	InputBufferSize  int    `yaml:"input_buffer_size"`  // Initial record buffer capacity.
	OutputBufferSize int    `yaml:"output_buffer_size"` // Fixed compressed-output buffer capacity.
	MetricsAddr      string `yaml:"metrics_addr"`       // Prometheus listen address; empty disables.
}

// Parse builds a Config from the positional command-line arguments.
func Parse(args []string) (*Config, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("expected 3 arguments, got %d", len(args))
	}

	workers, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, errors.NewValidationError("workers", args[0], fmt.Errorf("not an integer: %w", err))
	}

	level, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, errors.NewValidationError("level", args[1], fmt.Errorf("not an integer: %w", err))
	}

	cfg := Config{
		Workers:          workers,
		Level:            level,
		PathPrefix:       args[2],
		InputBufferSize:  pipeline.DefaultInputBufferSize,
		OutputBufferSize: pipeline.DefaultOutputBufferSize,
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadTuning overlays cfg with values from a YAML file and re-validates.
func LoadTuning(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	return Validate(cfg)
}

// Validate checks every parameter against its contract.
func Validate(cfg *Config) error {
	if cfg.Workers < 1 {
		return errors.NewValidationError("workers", cfg.Workers, fmt.Errorf("worker count must be at least 1"))
	}

	if cfg.Level < 1 {
		return errors.NewValidationError("level", cfg.Level, fmt.Errorf("compression level must be at least 1 (recommended 1-19)"))
	}

	if cfg.PathPrefix == "" {
		return errors.NewValidationError("path_prefix", cfg.PathPrefix, fmt.Errorf("output path prefix is required"))
	}

	if cfg.InputBufferSize <= 0 {
		return errors.NewValidationError("input_buffer_size", cfg.InputBufferSize, fmt.Errorf("input buffer size must be positive"))
	}

	if cfg.OutputBufferSize <= 0 {
		return errors.NewValidationError("output_buffer_size", cfg.OutputBufferSize, fmt.Errorf("output buffer size must be positive"))
	}

	return nil
}
