package opt

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

// rastrigin has many local minima and a global minimum of 0 at the origin
func rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

func TestNelderMeadOnSphere(t *testing.T) {
	got, err := NewNelderMead().Minimize(sphere, []float64{3, -2, 1})
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	if got.F > 1e-6 {
		t.Errorf("expected minimum near 0, got %g at %v", got.F, got.X)
	}
}

func TestBFGSOnSphere(t *testing.T) {
	got, err := NewBFGS().Minimize(sphere, []float64{3, -2})
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	if got.F > 1e-6 {
		t.Errorf("expected minimum near 0, got %g at %v", got.F, got.X)
	}
}

func TestMinimizeDoesNotAliasStart(t *testing.T) {
	x0 := []float64{1, 1}
	if _, err := NewNelderMead().Minimize(sphere, x0); err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	if x0[0] != 1 || x0[1] != 1 {
		t.Errorf("start vector was modified: %v", x0)
	}
}

func TestNewLocal(t *testing.T) {
	tests := []struct {
		method  string
		want    string
		wantErr bool
	}{
		{"", MethodNelderMead, false},
		{MethodNelderMead, MethodNelderMead, false},
		{MethodBFGS, MethodBFGS, false},
		{"simplex", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, err := NewLocal(tt.method)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Method() != tt.want {
				t.Errorf("Method() = %s, want %s", got.Method(), tt.want)
			}
		})
	}
}

func TestBasinHoppingEscapesLocalMinimum(t *testing.T) {
	bh := NewBasinHopping(NewNelderMead())

	// Start inside a non-global basin of the rastrigin function
	x0 := []float64{2.1, -1.9}
	local, _ := bh.Local.Minimize(rastrigin, x0)

	res, err := bh.Search(context.Background(), rastrigin, x0, SearchOptions{
		Iterations: 100,
		StepSize:   1.5,
		Interval:   10,
		Rand:       rand.New(rand.NewSource(42)),
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Best.F >= local.F {
		t.Errorf("basin hopping did not improve on the local minimum: %g >= %g", res.Best.F, local.F)
	}
	if res.Iterations != 100 {
		t.Errorf("Iterations = %d, want 100", res.Iterations)
	}
}

func TestBasinHoppingAcceptedTrajectoryIsMonotone(t *testing.T) {
	bh := NewBasinHopping(NewNelderMead())

	last := math.Inf(1)
	res, err := bh.Search(context.Background(), rastrigin, []float64{3, 3}, SearchOptions{
		Iterations: 40,
		StepSize:   1,
		Interval:   5,
		Rand:       rand.New(rand.NewSource(3)),
		Observer: func(s Step) {
			if s.Best.F > last {
				t.Errorf("best increased at iteration %d: %g > %g", s.Iteration, s.Best.F, last)
			}
			last = s.Best.F
			if s.Accepted && s.Candidate.F != s.Best.F {
				t.Errorf("accepted candidate not adopted at iteration %d", s.Iteration)
			}
		},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Best.F != last {
		t.Errorf("result best %g differs from last observed %g", res.Best.F, last)
	}
}

func TestBasinHoppingCustomAccept(t *testing.T) {
	bh := NewBasinHopping(NewNelderMead())

	res, err := bh.Search(context.Background(), sphere, []float64{1}, SearchOptions{
		Iterations: 10,
		StepSize:   1,
		Accept:     func(candidate, current Candidate) bool { return false },
		Rand:       rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Accepted != 0 {
		t.Errorf("Accepted = %d, want 0", res.Accepted)
	}
}

func TestBasinHoppingStepAdaptation(t *testing.T) {
	bh := NewBasinHopping(NewNelderMead())

	// Nothing is ever accepted, so every adaptation shrinks the step
	res, err := bh.Search(context.Background(), sphere, []float64{1}, SearchOptions{
		Iterations: 20,
		StepSize:   1,
		Interval:   10,
		Accept:     func(candidate, current Candidate) bool { return false },
		Rand:       rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	want := 1 * DefaultStepFactor * DefaultStepFactor
	if math.Abs(res.StepSize-want) > 1e-12 {
		t.Errorf("StepSize = %g, want %g", res.StepSize, want)
	}
}

func TestBasinHoppingEarlyStop(t *testing.T) {
	bh := NewBasinHopping(NewNelderMead())

	calls := 0
	res, err := bh.Search(context.Background(), sphere, []float64{1}, SearchOptions{
		Iterations: 50,
		StepSize:   1,
		Rand:       rand.New(rand.NewSource(1)),
		Stop: func(best Candidate) bool {
			calls++
			return calls == 3
		},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !res.Stopped || res.Iterations != 3 {
		t.Errorf("expected early stop after 3 iterations, got stopped=%v iterations=%d", res.Stopped, res.Iterations)
	}
}

func TestBasinHoppingCancelled(t *testing.T) {
	bh := NewBasinHopping(NewNelderMead())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := bh.Search(ctx, sphere, []float64{1, 2}, SearchOptions{Iterations: 10, StepSize: 1})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || len(res.Best.X) != 2 {
		t.Fatal("expected best-so-far result on cancellation")
	}
}

func TestNewSearcher(t *testing.T) {
	if _, err := NewSearcher(BackendBasinHopping, MethodNelderMead, 0); err != nil {
		t.Errorf("basinhopping: %v", err)
	}
	if _, err := NewSearcher(BackendMayfly, MethodBFGS, 20); err != nil {
		t.Errorf("mayfly: %v", err)
	}
	if _, err := NewSearcher("annealing", "", 0); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := NewSearcher("", "newton", 0); err == nil {
		t.Error("expected error for unknown local method")
	}
}
