package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/rationfit/internal/fit"
	"github.com/cwbudde/rationfit/internal/opt"
)

// PhaseSettings configures one search phase
type PhaseSettings struct {
	Spring      float64 `json:"spring" yaml:"spring" validate:"gt=0"`
	PercentTune float64 `json:"percentTune" yaml:"percentTune" validate:"gt=0"`
	Iterations  int     `json:"iterations" yaml:"iterations" validate:"gte=0"`
	StepSize    float64 `json:"stepSize" yaml:"stepSize" validate:"gt=0"`
	Interval    int     `json:"interval" yaml:"interval" validate:"gte=0"`
}

// Settings is the search configuration file
type Settings struct {
	Exploration PhaseSettings         `json:"exploration" yaml:"exploration"`
	Refinement  PhaseSettings         `json:"refinement" yaml:"refinement"`
	Seed        int64                 `json:"seed" yaml:"seed"`
	Restarts    int                   `json:"restarts" yaml:"restarts" validate:"gte=1,lte=64"`
	Backend     string                `json:"backend" yaml:"backend" validate:"oneof=basinhopping mayfly"`
	LocalMethod string                `json:"local" yaml:"local" validate:"oneof=nelder-mead bfgs"`
	PopSize     int                   `json:"popSize" yaml:"popSize" validate:"gte=0"`
	Convergence fit.ConvergenceConfig `json:"convergence" yaml:"convergence"`
}

var settingsValidate = validator.New()

// Default returns the standard two-phase settings
func Default() Settings {
	search := fit.DefaultSearchConfig()
	return Settings{
		Exploration: fromPhase(search.Exploration),
		Refinement:  fromPhase(search.Refinement),
		Seed:        search.Seed,
		Restarts:    search.Restarts,
		Backend:     opt.BackendBasinHopping,
		LocalMethod: opt.MethodNelderMead,
		PopSize:     opt.DefaultMayflyPopulation,
		Convergence: search.Convergence,
	}
}

// Load reads a YAML settings file over the defaults. Keys absent from the
// file keep their default values; unknown keys are rejected.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// Validate checks every field
func (s Settings) Validate() error {
	if err := settingsValidate.Struct(s); err != nil {
		return err
	}
	if s.Convergence.Enabled && s.Convergence.Patience < 1 {
		return fmt.Errorf("convergence patience must be at least 1 when enabled, got %d", s.Convergence.Patience)
	}
	return nil
}

// SearchConfig converts the settings for fit.Formulate
func (s Settings) SearchConfig() fit.SearchConfig {
	cfg := fit.DefaultSearchConfig()
	cfg.Exploration = s.Exploration.phase(fit.PhaseExploration)
	cfg.Refinement = s.Refinement.phase(fit.PhaseRefinement)
	cfg.Seed = s.Seed
	cfg.Restarts = s.Restarts
	cfg.Convergence = s.Convergence
	return cfg
}

// Searcher builds the configured global search backend
func (s Settings) Searcher() (opt.GlobalSearcher, error) {
	return opt.NewSearcher(s.Backend, s.LocalMethod, s.PopSize)
}

func (p PhaseSettings) phase(name string) fit.Phase {
	return fit.Phase{
		Name:         name,
		Coefficients: fit.Coefficients{Spring: p.Spring, PercentTune: p.PercentTune},
		Iterations:   p.Iterations,
		StepSize:     p.StepSize,
		Interval:     p.Interval,
	}
}

func fromPhase(p fit.Phase) PhaseSettings {
	return PhaseSettings{
		Spring:      p.Coefficients.Spring,
		PercentTune: p.Coefficients.PercentTune,
		Iterations:  p.Iterations,
		StepSize:    p.StepSize,
		Interval:    p.Interval,
	}
}
