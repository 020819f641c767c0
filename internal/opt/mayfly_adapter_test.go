package opt

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

// Sphere function: f(x) = sum(x_i^2), minimum at origin
func sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func TestMayflyAdapterOnSphere(t *testing.T) {
	optimizer := NewMayfly(20)

	dim := 3
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = -10
		upper[i] = 10
	}

	best, err := optimizer.Run(sphere, lower, upper, 100, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(best.X) != dim {
		t.Fatalf("Expected %d parameters, got %d", dim, len(best.X))
	}

	// Should converge close to zero
	if best.F > 0.1 {
		t.Errorf("Expected cost near 0, got %f", best.F)
	}

	for i, v := range best.X {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	lower := []float64{-5, -5}
	upper := []float64{5, 5}

	// Run twice with same seed (popSize must be >=20 for mayfly v0.1.0)
	best1, err := NewMayfly(20).Run(sphere, lower, upper, 50, rand.New(rand.NewSource(123)))
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	best2, err := NewMayfly(20).Run(sphere, lower, upper, 50, rand.New(rand.NewSource(123)))
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if best1.F != best2.F {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", best1.F, best2.F)
	}
}

func TestMayflyAdapterRejectsBadBounds(t *testing.T) {
	_, err := NewMayfly(20).Run(sphere, []float64{0}, []float64{1, 2}, 10, nil)
	if err == nil {
		t.Fatal("expected error for mismatched bounds")
	}
}

func TestNewMayflyPopulation(t *testing.T) {
	if m := NewMayfly(0); m.popSize != DefaultMayflyPopulation {
		t.Errorf("popSize = %d, want default %d", m.popSize, DefaultMayflyPopulation)
	}
	if m := NewMayfly(6); m.popSize != 6 {
		t.Errorf("popSize = %d, want 6", m.popSize)
	}
}

func TestMayflyAdapterSmallPopulation(t *testing.T) {
	var eval Func = sphere
	best, err := NewMayfly(6).Run(eval, []float64{-5, -5}, []float64{5, 5}, 40, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(best.X) != 2 || math.IsNaN(best.F) {
		t.Errorf("unexpected result: %+v", best)
	}
	if best.F < 0 || best.F >= 50 {
		t.Errorf("best cost %g should beat the box corner", best.F)
	}
}

func TestPopulationSearchPolishesAndAccepts(t *testing.T) {
	search := NewPopulationSearch(NewMayfly(20), NewNelderMead())

	x0 := []float64{4, -3}
	res, err := search.Search(context.Background(), sphere, x0, SearchOptions{
		Iterations: 30,
		StepSize:   1.5,
		Lower:      []float64{-5, -5},
		Upper:      []float64{5, 5},
		Rand:       rand.New(rand.NewSource(7)),
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Best.F > 1e-4 {
		t.Errorf("expected polished result near 0, got %g", res.Best.F)
	}
}

func TestPopulationSearchRespectsAcceptTest(t *testing.T) {
	search := NewPopulationSearch(NewMayfly(20), nil)

	x0 := []float64{1, 1}
	res, err := search.Search(context.Background(), sphere, x0, SearchOptions{
		Iterations: 10,
		StepSize:   2,
		Accept:     func(candidate, current Candidate) bool { return false },
		Rand:       rand.New(rand.NewSource(7)),
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Accepted != 0 {
		t.Errorf("Accepted = %d, want 0", res.Accepted)
	}
	if res.Best.X[0] != 1 || res.Best.X[1] != 1 {
		t.Errorf("expected start to be kept, got %v", res.Best.X)
	}
}
