package sba

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/sfm/utils"
)

// Default damping settings.
const (
	DefaultInitialLambda  = 1e-3
	DefaultLambdaIncrease = 10.
	DefaultLambdaDecrease = 10.
	DefaultMinLambda      = 1e-12
	DefaultMaxLambda      = 1e12
)

// Config holds the Levenberg-Marquardt damping schedule and the number of workers used to build the
// reduced camera system.
type Config struct {
	InitialLambda  float64 `json:"initial_lambda,omitempty"`
	LambdaIncrease float64 `json:"lambda_increase,omitempty"`
	LambdaDecrease float64 `json:"lambda_decrease,omitempty"`
	MinLambda      float64 `json:"min_lambda,omitempty"`
	MaxLambda      float64 `json:"max_lambda,omitempty"`
	Workers        int     `json:"workers,omitempty"`
}

// NewDefaultConfig returns the default configuration.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// NewConfigFromAttributes converts an attribute map, keyed by the json field names, into a Config.
// Unset fields take their defaults.
func NewConfigFromAttributes(attributes map[string]interface{}) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "error decoding solver attributes")
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.InitialLambda == 0 {
		cfg.InitialLambda = DefaultInitialLambda
	}
	if cfg.LambdaIncrease == 0 {
		cfg.LambdaIncrease = DefaultLambdaIncrease
	}
	if cfg.LambdaDecrease == 0 {
		cfg.LambdaDecrease = DefaultLambdaDecrease
	}
	if cfg.MinLambda == 0 {
		cfg.MinLambda = DefaultMinLambda
	}
	if cfg.MaxLambda == 0 {
		cfg.MaxLambda = DefaultMaxLambda
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.MinLambda <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("min_lambda must be positive, got %v", cfg.MinLambda))
	}
	if cfg.MaxLambda <= cfg.MinLambda {
		return utils.NewConfigValidationError(path,
			errors.Errorf("max_lambda %v must be greater than min_lambda %v", cfg.MaxLambda, cfg.MinLambda))
	}
	if cfg.InitialLambda < cfg.MinLambda || cfg.InitialLambda > cfg.MaxLambda {
		return utils.NewConfigValidationError(path,
			errors.Errorf("initial_lambda %v must be within [%v, %v]", cfg.InitialLambda, cfg.MinLambda, cfg.MaxLambda))
	}
	if cfg.LambdaIncrease <= 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("lambda_increase must be greater than 1, got %v", cfg.LambdaIncrease))
	}
	if cfg.LambdaDecrease <= 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("lambda_decrease must be greater than 1, got %v", cfg.LambdaDecrease))
	}
	if cfg.Workers < 1 {
		return utils.NewConfigValidationFieldRequiredError(path, "workers")
	}
	return nil
}
