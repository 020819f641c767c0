package fit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/rationfit/internal/catalog"
	"github.com/cwbudde/rationfit/internal/opt"
)

// soyCorn needs at least a third soy to reach 20 protein; the cheapest
// feasible blend costs about 23.33 per unit.
func soyCorn(t *testing.T) *catalog.Catalog {
	return mustCatalog(t,
		[]catalog.Ingredient{
			{Name: "Soy", Price: 40, Provides: []catalog.Contribution{{Nutrient: "Protein", Amount: 44}}, Maximum: 100},
			{Name: "Corn", Price: 15, Provides: []catalog.Contribution{{Nutrient: "Protein", Amount: 8}}, Maximum: 80},
		},
		[]catalog.Nutrient{{Name: "Protein", Minimum: 20, Maximum: 100}},
	)
}

func quickConfig() SearchConfig {
	cfg := DefaultSearchConfig()
	cfg.Exploration.Iterations = 20
	cfg.Refinement.Iterations = 10
	cfg.Seed = 42
	return cfg
}

func basinHopping() opt.GlobalSearcher {
	return opt.NewBasinHopping(opt.NewNelderMead())
}

func TestAcceptRule(t *testing.T) {
	accept := AcceptRule()

	massive := func(f float64) opt.Candidate { return opt.Candidate{X: []float64{1, 0}, F: f} }
	empty := func(f float64) opt.Candidate { return opt.Candidate{X: []float64{0, -1}, F: f} }

	assert.True(t, accept(massive(1), massive(2)), "improvement with mass")
	assert.False(t, accept(massive(3), massive(2)), "worse with mass")
	assert.False(t, accept(empty(0), massive(2)), "zero-mass candidate never wins")
	assert.True(t, accept(massive(5), empty(1)), "escape the zero-mass state")
	assert.False(t, accept(empty(0), empty(1)), "zero-mass to zero-mass")
}

func TestDefaultSearchConfig(t *testing.T) {
	cfg := DefaultSearchConfig()

	assert.Equal(t, Coefficients{Spring: 20, PercentTune: 10}, cfg.Exploration.Coefficients)
	assert.Equal(t, 100, cfg.Exploration.Iterations)
	assert.Equal(t, Coefficients{Spring: 5, PercentTune: 4}, cfg.Refinement.Coefficients)
	assert.Equal(t, 50, cfg.Refinement.Iterations)
	assert.Equal(t, 1.5, cfg.Refinement.StepSize)
	assert.Equal(t, 10, cfg.Refinement.Interval)
	assert.False(t, cfg.Convergence.Enabled)
}

func TestFormulateSoyCorn(t *testing.T) {
	cat := soyCorn(t)

	f, err := Formulate(context.Background(), cat, quickConfig(), basinHopping())
	require.NoError(t, err)
	require.Len(t, f.Phases, 2)

	assert.Equal(t, PhaseExploration, f.Phases[0].Name)
	assert.Equal(t, PhaseRefinement, f.Phases[1].Name)
	assert.Equal(t, 20, f.Phases[0].Iterations)
	assert.Equal(t, 10, f.Phases[1].Iterations)

	assert.InDelta(t, 20.0, f.Blend.Concentration("Protein"), 0.5)
	assert.InDelta(t, 23.3, f.BaseCost, 0.5)
	assert.Equal(t, f.Blend.Cost, f.BaseCost)
	assert.GreaterOrEqual(t, f.Objective, f.BaseCost)
	assert.Greater(t, f.Blend.TotalMass, 0.0)
}

func TestFormulateRefinementIsMonotone(t *testing.T) {
	cat := soyCorn(t)
	cfg := quickConfig()

	var refinement []float64
	cfg.Progress = func(p Progress) {
		if p.Phase == PhaseRefinement {
			refinement = append(refinement, p.Step.Best.F)
		}
	}

	_, err := Formulate(context.Background(), cat, cfg, basinHopping())
	require.NoError(t, err)
	require.Len(t, refinement, cfg.Refinement.Iterations)

	for i := 1; i < len(refinement); i++ {
		assert.LessOrEqual(t, refinement[i], refinement[i-1], "iteration %d", i+1)
	}
}

func TestFormulateDeterministic(t *testing.T) {
	cat := soyCorn(t)

	a, err := Formulate(context.Background(), cat, quickConfig(), basinHopping())
	require.NoError(t, err)
	b, err := Formulate(context.Background(), cat, quickConfig(), basinHopping())
	require.NoError(t, err)

	assert.Equal(t, a.Amounts, b.Amounts)
	assert.Equal(t, a.Objective, b.Objective)
}

func TestFormulateRestarts(t *testing.T) {
	cat := soyCorn(t)

	single, err := Formulate(context.Background(), cat, quickConfig(), basinHopping())
	require.NoError(t, err)

	cfg := quickConfig()
	cfg.Restarts = 3
	var mu sync.Mutex
	seen := map[int]bool{}
	cfg.Progress = func(p Progress) {
		mu.Lock()
		seen[p.Restart] = true
		mu.Unlock()
	}

	multi, err := Formulate(context.Background(), cat, cfg, basinHopping())
	require.NoError(t, err)

	assert.Len(t, seen, 3)
	assert.LessOrEqual(t, multi.Objective, single.Objective)
	assert.Equal(t, cfg.Seed+int64(multi.Restart), multi.Seed)
}

func TestFormulateCustomStart(t *testing.T) {
	cat := soyCorn(t)
	cfg := quickConfig()
	cfg.Start = []float64{1, 2}

	f, err := Formulate(context.Background(), cat, cfg, basinHopping())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, f.Blend.Concentration("Protein"), 0.5)

	cfg.Start = []float64{1}
	_, err = Formulate(context.Background(), cat, cfg, basinHopping())
	assert.Error(t, err)
}

func TestFormulateCancelled(t *testing.T) {
	cat := soyCorn(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, err := Formulate(ctx, cat, quickConfig(), basinHopping())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, f)
	assert.Len(t, f.Amounts, 2)
}

func TestFormulateEarlyStop(t *testing.T) {
	cat := soyCorn(t)
	cfg := quickConfig()
	cfg.Exploration.Iterations = 200
	cfg.Convergence = ConvergenceConfig{Enabled: true, Patience: 5, Threshold: 1e-6}

	f, err := Formulate(context.Background(), cat, cfg, basinHopping())
	require.NoError(t, err)
	assert.True(t, f.Phases[0].Stopped)
	assert.Less(t, f.Phases[0].Iterations, 200)
}

func TestFormulateRejectsInvalidConfig(t *testing.T) {
	cat := soyCorn(t)

	cfg := quickConfig()
	cfg.Refinement.Coefficients.Spring = 0
	_, err := Formulate(context.Background(), cat, cfg, basinHopping())
	assert.ErrorIs(t, err, ErrInvalidCoefficients)

	cfg = quickConfig()
	cfg.Exploration.StepSize = 0
	_, err = Formulate(context.Background(), cat, cfg, basinHopping())
	assert.Error(t, err)

	_, err = Formulate(context.Background(), cat, quickConfig(), nil)
	assert.Error(t, err)
}

func TestFormulateMayflyBackend(t *testing.T) {
	cat := soyCorn(t)
	backend, err := opt.NewSearcher(opt.BackendMayfly, opt.MethodNelderMead, 20)
	require.NoError(t, err)

	f, err := Formulate(context.Background(), cat, quickConfig(), backend)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, f.Blend.Concentration("Protein"), 1.0)
}
