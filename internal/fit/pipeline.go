package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/rationfit/internal/catalog"
	"github.com/cwbudde/rationfit/internal/opt"
)

// Phase names
const (
	PhaseExploration = "exploration"
	PhaseRefinement  = "refinement"
)

// Phase configures one global-search pass
type Phase struct {
	Name         string       `json:"name" yaml:"name"`
	Coefficients Coefficients `json:"coefficients" yaml:"coefficients"`
	Iterations   int          `json:"iterations" yaml:"iterations"`
	StepSize     float64      `json:"stepSize" yaml:"stepSize"`
	Interval     int          `json:"interval" yaml:"interval"`
}

// Validate checks the phase parameters
func (p Phase) Validate() error {
	if err := p.Coefficients.Validate(); err != nil {
		return fmt.Errorf("phase %s: %w", p.Name, err)
	}
	if p.Iterations < 0 {
		return fmt.Errorf("phase %s: iterations must be non-negative, got %d", p.Name, p.Iterations)
	}
	if !(p.StepSize > 0) {
		return fmt.Errorf("phase %s: step size must be positive, got %g", p.Name, p.StepSize)
	}
	if p.Interval < 0 {
		return fmt.Errorf("phase %s: interval must be non-negative, got %d", p.Name, p.Interval)
	}
	return nil
}

// Progress is reported after every global-search iteration
type Progress struct {
	Restart int
	Phase   string
	Step    opt.Step
}

// ProgressFunc receives search progress. With Restarts > 1 it is called from
// several goroutines and must be safe for concurrent use.
type ProgressFunc func(Progress)

// SearchConfig drives Formulate
type SearchConfig struct {
	Exploration Phase
	Refinement  Phase

	// Start is the initial amount vector; nil means the catalog minimums
	Start []float64

	// Seed seeds restart i with Seed+i
	Seed int64

	// Restarts is the number of independent two-phase searches (min 1)
	Restarts int

	// Convergence optionally ends a phase early
	Convergence ConvergenceConfig

	// Progress is optional
	Progress ProgressFunc
}

// DefaultSearchConfig returns the standard two-phase schedule
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Exploration: Phase{
			Name:         PhaseExploration,
			Coefficients: Coefficients{Spring: 20, PercentTune: 10},
			Iterations:   100,
			StepSize:     1.5,
			Interval:     10,
		},
		Refinement: Phase{
			Name:         PhaseRefinement,
			Coefficients: Coefficients{Spring: 5, PercentTune: 4},
			Iterations:   50,
			StepSize:     1.5,
			Interval:     10,
		},
		Seed:        1,
		Restarts:    1,
		Convergence: DisabledConvergenceConfig(),
	}
}

// PhaseResult summarizes one phase of one run
type PhaseResult struct {
	Name       string  `json:"name"`
	StartValue float64 `json:"startValue"`
	FinalValue float64 `json:"finalValue"`
	Accepted   int     `json:"accepted"`
	Iterations int     `json:"iterations"`
	StepSize   float64 `json:"stepSize"`
	Stopped    bool    `json:"stopped,omitempty"`
}

// Formulation is the outcome of a search
type Formulation struct {
	// Amounts is the refinement phase's accepted vector
	Amounts []float64

	// Objective is the penalized value under the refinement coefficients
	Objective float64

	// BaseCost is the unpenalized price per unit mass
	BaseCost float64

	Blend   Blend
	Phases  []PhaseResult
	Restart int
	Seed    int64
}

// AcceptRule is the accept test of the search: a candidate with positive
// mass wins when it lowers the objective or when the current point has no
// mass. Zero-mass candidates are never accepted.
func AcceptRule() opt.AcceptFunc {
	return func(candidate, current opt.Candidate) bool {
		if TotalMass(candidate.X) <= 0 {
			return false
		}
		return candidate.F < current.F || TotalMass(current.X) <= 0
	}
}

// Formulate runs the exploration and refinement phases and returns the
// refined blend. Exhausting the budget without reaching feasibility is not
// an error. If ctx is cancelled the best formulation so far is returned
// together with the context error.
func Formulate(ctx context.Context, cat *catalog.Catalog, cfg SearchConfig, backend opt.GlobalSearcher) (*Formulation, error) {
	if cat == nil {
		return nil, errors.New("formulate: nil catalog")
	}
	if backend == nil {
		return nil, errors.New("formulate: nil search backend")
	}
	if err := cfg.Exploration.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Refinement.Validate(); err != nil {
		return nil, err
	}

	start := cfg.Start
	if start == nil {
		start = cat.MinimumVector()
	}
	if len(start) != cat.NumIngredients() {
		return nil, fmt.Errorf("start vector has %d entries, catalog has %d ingredients", len(start), cat.NumIngredients())
	}

	restarts := max(cfg.Restarts, 1)
	slog.Info("Starting formulation",
		"ingredients", cat.NumIngredients(),
		"nutrients", cat.NumNutrients(),
		"restarts", restarts,
		"seed", cfg.Seed,
	)

	if restarts == 1 {
		return formulateOnce(ctx, cat, cfg, backend, start, 0)
	}

	results := make([]*Formulation, restarts)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < restarts; i++ {
		g.Go(func() error {
			f, err := formulateOnce(gctx, cat, cfg, backend, start, i)
			results[i] = f
			return err
		})
	}
	err := g.Wait()

	best := pickBest(results)
	if best != nil {
		slog.Info("Multi-start complete", "winner", best.Restart, "objective", best.Objective)
	}
	if err != nil {
		return best, err
	}
	return best, nil
}

// pickBest returns the lowest refinement objective, earliest restart on ties
func pickBest(results []*Formulation) *Formulation {
	var best *Formulation
	for _, f := range results {
		if f == nil {
			continue
		}
		if best == nil || f.Objective < best.Objective {
			best = f
		}
	}
	return best
}

func formulateOnce(ctx context.Context, cat *catalog.Catalog, cfg SearchConfig, backend opt.GlobalSearcher, start []float64, restart int) (*Formulation, error) {
	seed := cfg.Seed + int64(restart)
	rng := rand.New(rand.NewSource(seed))

	current := append([]float64(nil), start...)
	var phases []PhaseResult

	for _, phase := range []Phase{cfg.Exploration, cfg.Refinement} {
		pr, best, err := runPhase(ctx, cat, cfg, phase, backend, current, rng, restart)
		if best != nil {
			current = best
			phases = append(phases, pr)
		}
		if err != nil {
			return finish(cat, cfg.Refinement.Coefficients, current, phases, restart, seed), err
		}
	}

	return finish(cat, cfg.Refinement.Coefficients, current, phases, restart, seed), nil
}

func runPhase(ctx context.Context, cat *catalog.Catalog, cfg SearchConfig, phase Phase, backend opt.GlobalSearcher, start []float64, rng *rand.Rand, restart int) (PhaseResult, []float64, error) {
	objective, err := NewObjective(cat, phase.Coefficients)
	if err != nil {
		return PhaseResult{}, nil, err
	}
	f := objective.Func()

	tracker := NewConvergenceTracker(cfg.Convergence)
	lower, upper := cat.Bounds()

	opts := opt.SearchOptions{
		Iterations: phase.Iterations,
		StepSize:   phase.StepSize,
		Interval:   phase.Interval,
		Accept:     AcceptRule(),
		Lower:      lower,
		Upper:      upper,
		Rand:       rng,
		Stop: func(best opt.Candidate) bool {
			return tracker.Update(best.F)
		},
	}
	if cfg.Progress != nil {
		opts.Observer = func(s opt.Step) {
			cfg.Progress(Progress{Restart: restart, Phase: phase.Name, Step: s})
		}
	}

	startValue := f(start)
	slog.Debug("Phase starting",
		"restart", restart,
		"phase", phase.Name,
		"spring", phase.Coefficients.Spring,
		"percent_tune", phase.Coefficients.PercentTune,
		"start_value", startValue,
	)

	res, err := backend.Search(ctx, f, start, opts)
	if res == nil {
		if err == nil {
			err = fmt.Errorf("phase %s: search returned no result", phase.Name)
		}
		return PhaseResult{}, nil, fmt.Errorf("phase %s: %w", phase.Name, err)
	}

	pr := PhaseResult{
		Name:       phase.Name,
		StartValue: startValue,
		FinalValue: res.Best.F,
		Accepted:   res.Accepted,
		Iterations: res.Iterations,
		StepSize:   res.StepSize,
		Stopped:    res.Stopped,
	}
	slog.Debug("Phase complete",
		"restart", restart,
		"phase", phase.Name,
		"final_value", pr.FinalValue,
		"accepted", pr.Accepted,
		"iterations", pr.Iterations,
	)

	if err != nil {
		return pr, res.Best.X, fmt.Errorf("phase %s: %w", phase.Name, err)
	}
	return pr, res.Best.X, nil
}

func finish(cat *catalog.Catalog, k Coefficients, amounts []float64, phases []PhaseResult, restart int, seed int64) *Formulation {
	objective := Objective{Catalog: cat, Coefficients: k}
	blend := Evaluate(cat, amounts)
	return &Formulation{
		Amounts:   amounts,
		Objective: objective.Value(amounts, false),
		BaseCost:  blend.Cost,
		Blend:     blend,
		Phases:    phases,
		Restart:   restart,
		Seed:      seed,
	}
}
