package opt

import (
	"context"
	"math/rand"
)

// Func is an objective function to minimize
type Func func(x []float64) float64

// Candidate is a point in parameter space with its objective value
type Candidate struct {
	X []float64
	F float64
}

// Clone returns a deep copy of the candidate
func (c Candidate) Clone() Candidate {
	return Candidate{X: append([]float64(nil), c.X...), F: c.F}
}

// AcceptFunc decides whether a freshly minimized candidate replaces the
// current accepted point. A nil AcceptFunc means "lower objective wins".
type AcceptFunc func(candidate, current Candidate) bool

// Step describes one completed global-search iteration
type Step struct {
	Iteration int
	Candidate Candidate
	Best      Candidate
	Accepted  bool
	StepSize  float64
}

// Observer is notified after every global-search iteration
type Observer func(Step)

// Optimizer defines a box-bounded population optimization algorithm
type Optimizer interface {
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: parameter bounds, one entry per dimension
	// iterations: generation budget
	// rng: random source; implementations must not share it across runs
	// Returns: best parameters and best cost
	Run(eval Func, lower, upper []float64, iterations int, rng *rand.Rand) (Candidate, error)
}

// LocalMinimizer descends from a starting point to a nearby local minimum
type LocalMinimizer interface {
	Minimize(f Func, x0 []float64) (Candidate, error)
}

// SearchOptions configures one global search run
type SearchOptions struct {
	// Iterations is the number of perturb-minimize-accept rounds
	Iterations int

	// StepSize is the half-width of the uniform perturbation per component
	StepSize float64

	// Interval is how often (in iterations) the step size is adapted.
	// Zero disables adaptation.
	Interval int

	// Accept is the acceptance test; nil means plain improvement
	Accept AcceptFunc

	// Lower and Upper optionally bound the search box (population searchers)
	Lower, Upper []float64

	// Rand is the random source; a fixed-seed source is created when nil
	Rand *rand.Rand

	// Observer receives per-iteration progress; optional
	Observer Observer

	// Stop ends the search early when it returns true; optional
	Stop func(best Candidate) bool
}

// Result is the outcome of a global search
type Result struct {
	Best       Candidate
	Iterations int
	Accepted   int
	StepSize   float64
	Stopped    bool
}

// GlobalSearcher is a stochastic search that escapes local minima.
// Search returns the best accepted candidate; when ctx is cancelled it
// returns the best so far together with ctx.Err().
type GlobalSearcher interface {
	Search(ctx context.Context, f Func, x0 []float64, opts SearchOptions) (*Result, error)
}

func (o SearchOptions) accept(candidate, current Candidate) bool {
	if o.Accept != nil {
		return o.Accept(candidate, current)
	}
	return candidate.F < current.F
}

func (o SearchOptions) rng() *rand.Rand {
	if o.Rand != nil {
		return o.Rand
	}
	return rand.New(rand.NewSource(1))
}
