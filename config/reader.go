// Package config reads bundle adjustment run configuration files.
package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"go.viam.com/sfm/slam/sba"
)

// Default termination settings.
const (
	DefaultMaxIterations = 30
	DefaultCostDelta     = 1e-8
)

// Termination configures when an optimization stops.
type Termination struct {
	MaxIterations int     `json:"max_iterations,omitempty"`
	CostDelta     float64 `json:"cost_delta,omitempty"`
}

// Config is a bundle adjustment run configuration. Solver holds the solver attributes, keyed by the
// json names of sba.Config.
type Config struct {
	Solver      map[string]interface{} `json:"solver,omitempty"`
	Termination Termination            `json:"termination"`
}

// Read reads a config from the given file, substituting environment variables first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file the
// reader originated from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}
	if cfg.Termination.MaxIterations == 0 {
		cfg.Termination.MaxIterations = DefaultMaxIterations
	}
	if cfg.Termination.CostDelta == 0 {
		cfg.Termination.CostDelta = DefaultCostDelta
	}
	if err := cfg.Validate(originalPath); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReadSolverConfig reads only the solver settings of a config file.
func ReadSolverConfig(filePath string) (*sba.Config, error) {
	cfg, err := Read(filePath)
	if err != nil {
		return nil, err
	}
	return cfg.SolverConfig()
}

// SolverConfig converts the solver attributes into an sba.Config with defaults filled in.
func (cfg *Config) SolverConfig() (*sba.Config, error) {
	return sba.NewConfigFromAttributes(cfg.Solver)
}

// Criteria returns the termination criteria the config describes.
func (cfg *Config) Criteria() sba.TerminationCriteria {
	return sba.NewCountAndCostDelta(cfg.Termination.MaxIterations, cfg.Termination.CostDelta)
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	solver, err := cfg.SolverConfig()
	if err != nil {
		return errors.Wrapf(err, "error validating %q", path)
	}
	if err := solver.Validate(path + ".solver"); err != nil {
		return err
	}
	if cfg.Termination.MaxIterations < 0 {
		return errors.Errorf("%s.termination: max_iterations must not be negative, got %d", path, cfg.Termination.MaxIterations)
	}
	if cfg.Termination.CostDelta < 0 {
		return errors.Errorf("%s.termination: cost_delta must not be negative, got %v", path, cfg.Termination.CostDelta)
	}
	return nil
}
