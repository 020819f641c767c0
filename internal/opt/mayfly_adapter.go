package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// DefaultMayflyPopulation sizes each of the male and female swarms when
// no population is configured
const DefaultMayflyPopulation = 20

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	popSize int
}

// NewMayfly creates a new Mayfly optimizer adapter. popSize <= 0 selects
// DefaultMayflyPopulation.
func NewMayfly(popSize int) *MayflyAdapter {
	if popSize <= 0 {
		popSize = DefaultMayflyPopulation
	}
	return &MayflyAdapter{popSize: popSize}
}

// Run executes the Mayfly optimization using the external library
func (m *MayflyAdapter) Run(eval Func, lower, upper []float64, iterations int, rng *rand.Rand) (Candidate, error) {
	dim := len(lower)
	if dim == 0 || len(upper) != dim {
		return Candidate{}, fmt.Errorf("mayfly: bounds must be non-empty and of equal length (got %d and %d)", len(lower), len(upper))
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = mayfly.ObjectiveFunction(eval)
	config.ProblemSize = dim
	config.MaxIterations = iterations
	config.NPop = m.popSize
	config.NPopF = m.popSize

	// The library takes scalar bounds, so use the enclosing box
	lo, hi := lower[0], upper[0]
	for i := 1; i < dim; i++ {
		lo = min(lo, lower[i])
		hi = max(hi, upper[i])
	}
	config.LowerBound = lo
	config.UpperBound = hi

	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	config.Rand = rng

	result, err := mayfly.Optimize(config)
	if err != nil {
		return Candidate{}, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	return Candidate{
		X: append([]float64(nil), result.GlobalBest.Position...),
		F: result.GlobalBest.Cost,
	}, nil
}
