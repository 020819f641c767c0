package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
)

// Basin-hopping step adaptation defaults
const (
	DefaultTargetAcceptRate = 0.5
	DefaultStepFactor       = 0.9
)

// BasinHopping alternates random perturbation with local minimization.
// Only the accepted point is perturbed; rejected candidates are discarded.
type BasinHopping struct {
	Local LocalMinimizer

	// TargetAcceptRate steers step adaptation: above it the step grows,
	// below it the step shrinks.
	TargetAcceptRate float64

	// StepFactor is the multiplicative step change per adaptation
	StepFactor float64
}

// NewBasinHopping creates a basin-hopping searcher around a local minimizer
func NewBasinHopping(local LocalMinimizer) *BasinHopping {
	return &BasinHopping{
		Local:            local,
		TargetAcceptRate: DefaultTargetAcceptRate,
		StepFactor:       DefaultStepFactor,
	}
}

// Search runs the basin-hopping loop from x0
func (b *BasinHopping) Search(ctx context.Context, f Func, x0 []float64, opts SearchOptions) (*Result, error) {
	if b.Local == nil {
		return nil, fmt.Errorf("basin hopping requires a local minimizer")
	}
	rng := opts.rng()

	best, err := b.Local.Minimize(f, x0)
	if err != nil {
		return nil, fmt.Errorf("initial local minimization: %w", err)
	}

	result := &Result{Best: best, StepSize: opts.StepSize}
	step := opts.StepSize
	windowAccepted := 0

	for i := 1; i <= opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		trial := perturb(result.Best.X, step, rng)
		candidate, err := b.Local.Minimize(f, trial)
		if err != nil {
			return result, fmt.Errorf("local minimization at iteration %d: %w", i, err)
		}

		accepted := opts.accept(candidate, result.Best)
		if accepted {
			result.Best = candidate
			result.Accepted++
			windowAccepted++
		}
		result.Iterations = i

		if opts.Interval > 0 && i%opts.Interval == 0 {
			step = b.adaptStep(step, float64(windowAccepted)/float64(opts.Interval))
			windowAccepted = 0
		}
		result.StepSize = step

		if opts.Observer != nil {
			opts.Observer(Step{
				Iteration: i,
				Candidate: candidate,
				Best:      result.Best,
				Accepted:  accepted,
				StepSize:  step,
			})
		}

		if opts.Stop != nil && opts.Stop(result.Best) {
			result.Stopped = true
			slog.Debug("Basin hopping stopped early", "iteration", i, "best", result.Best.F)
			break
		}
	}

	return result, nil
}

func (b *BasinHopping) adaptStep(step, acceptRate float64) float64 {
	factor := b.StepFactor
	if factor <= 0 || factor >= 1 {
		factor = DefaultStepFactor
	}
	if acceptRate > b.TargetAcceptRate {
		return step / factor
	}
	return step * factor
}

// perturb returns x displaced by a uniform random step in [-step, step] per component
func perturb(x []float64, step float64, rng *rand.Rand) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v + (rng.Float64()*2-1)*step
	}
	return out
}
