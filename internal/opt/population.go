package opt

import (
	"context"
	"fmt"
	"math"
)

// PopulationSearch adapts a box-bounded Optimizer to the GlobalSearcher
// contract: the population result is polished by the local minimizer and
// kept only if it passes the accept test against the polished start.
type PopulationSearch struct {
	Optimizer Optimizer
	Local     LocalMinimizer
}

// NewPopulationSearch combines a population optimizer with an optional polish step
func NewPopulationSearch(o Optimizer, local LocalMinimizer) *PopulationSearch {
	return &PopulationSearch{Optimizer: o, Local: local}
}

// Search runs the population optimizer once over the search box
func (p *PopulationSearch) Search(ctx context.Context, f Func, x0 []float64, opts SearchOptions) (*Result, error) {
	if p.Optimizer == nil {
		return nil, fmt.Errorf("population search requires an optimizer")
	}

	start, err := p.polish(f, x0)
	if err != nil {
		return nil, fmt.Errorf("initial local minimization: %w", err)
	}
	result := &Result{Best: start, StepSize: opts.StepSize}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	lower, upper := opts.Lower, opts.Upper
	if len(lower) != len(x0) || len(upper) != len(x0) {
		lower, upper = boxAround(x0, opts.StepSize)
	}

	found, err := p.Optimizer.Run(f, lower, upper, opts.Iterations, opts.rng())
	if err != nil {
		return result, err
	}
	candidate, err := p.polish(f, found.X)
	if err != nil {
		return result, fmt.Errorf("polishing population result: %w", err)
	}

	accepted := opts.accept(candidate, start)
	if accepted {
		result.Best = candidate
		result.Accepted = 1
	}
	result.Iterations = opts.Iterations

	if opts.Observer != nil {
		opts.Observer(Step{
			Iteration: opts.Iterations,
			Candidate: candidate,
			Best:      result.Best,
			Accepted:  accepted,
			StepSize:  opts.StepSize,
		})
	}

	return result, nil
}

func (p *PopulationSearch) polish(f Func, x []float64) (Candidate, error) {
	if p.Local == nil {
		cp := append([]float64(nil), x...)
		return Candidate{X: cp, F: f(cp)}, nil
	}
	return p.Local.Minimize(f, x)
}

// boxAround builds a search box of half-width max(step, |x_i|) around x
func boxAround(x []float64, step float64) (lower, upper []float64) {
	lower = make([]float64, len(x))
	upper = make([]float64, len(x))
	for i, v := range x {
		w := math.Max(step, math.Abs(v))
		lower[i] = v - w
		upper[i] = v + w
	}
	return lower, upper
}
