package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/radau/internal/dae"
)

const (
	DefaultModel  = "decay"
	DefaultStages = 4
	DefaultRtol   = 1e-3
	DefaultAtol   = 1e-6
)

type Config struct {
	Model  string       `yaml:"model"`
	Span   SpanConfig   `yaml:"span"`
	Solver SolverConfig `yaml:"solver"`
}

// SpanConfig overrides the model's recommended integration interval
// when the endpoints differ.
type SpanConfig struct {
	T0     float64 `yaml:"t0"`
	TBound float64 `yaml:"t_bound"`
}

type SolverConfig struct {
	Stages                int        `yaml:"stages"`
	Rtol                  float64    `yaml:"rtol"`
	Atol                  float64    `yaml:"atol"`
	MaxStep               float64    `yaml:"max_step"`
	FirstStep             float64    `yaml:"first_step"`
	NewtonMaxIter         int        `yaml:"newton_max_iter"`
	NewtonIterEmbedded    int        `yaml:"newton_iter_embedded"`
	ContinuousErrorWeight float64    `yaml:"continuous_error_weight"`
	JacRecomputeRate      float64    `yaml:"jac_recompute_rate"`
	Deadband              [2]float64 `yaml:"deadband"`
	Unknowns              string     `yaml:"unknowns"`
}

func DefaultConfig() *Config {
	return &Config{
		Model: DefaultModel,
		Solver: SolverConfig{
			Stages:             DefaultStages,
			Rtol:               DefaultRtol,
			Atol:               DefaultAtol,
			NewtonIterEmbedded: 1,
			JacRecomputeRate:   1e-3,
			Deadband:           [2]float64{1.0, 1.2},
			Unknowns:           "derivatives",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Options maps the file representation onto solver options. Unknown
// strategy names fall back to derivatives; Validate on the result
// reports the remaining violations.
func (c *Config) Options() dae.Options {
	opts := dae.DefaultOptions()
	opts.Stages = c.Solver.Stages
	opts.Rtol = c.Solver.Rtol
	opts.Atol = c.Solver.Atol
	opts.MaxStep = c.Solver.MaxStep
	opts.FirstStep = c.Solver.FirstStep
	opts.NewtonMaxIter = c.Solver.NewtonMaxIter
	opts.NewtonIterEmbedded = c.Solver.NewtonIterEmbedded
	opts.ContinuousErrorWeight = c.Solver.ContinuousErrorWeight
	opts.JacRecomputeRate = c.Solver.JacRecomputeRate
	opts.Deadband = c.Solver.Deadband
	if c.Solver.Unknowns == "increments" {
		opts.Unknowns = dae.UnknownIncrements
	} else {
		opts.Unknowns = dae.UnknownDerivatives
	}
	return opts
}
