package opt

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Local minimization methods
const (
	MethodNelderMead = "nelder-mead"
	MethodBFGS       = "bfgs"
)

// GonumLocal minimizes with a gonum/optimize method
type GonumLocal struct {
	method           string
	maxEvaluations   int
	maxIterations    int
	convergeAbs      float64
	convergePatience int
}

// NewNelderMead returns a derivative-free local minimizer
func NewNelderMead() *GonumLocal {
	return &GonumLocal{
		method:           MethodNelderMead,
		maxEvaluations:   20000,
		convergeAbs:      1e-9,
		convergePatience: 200,
	}
}

// NewBFGS returns a quasi-Newton local minimizer using central finite
// differences for the gradient
func NewBFGS() *GonumLocal {
	return &GonumLocal{
		method:           MethodBFGS,
		maxEvaluations:   20000,
		maxIterations:    500,
		convergeAbs:      1e-9,
		convergePatience: 20,
	}
}

// NewLocal resolves a local minimizer by method name
func NewLocal(method string) (*GonumLocal, error) {
	switch method {
	case MethodNelderMead, "":
		return NewNelderMead(), nil
	case MethodBFGS:
		return NewBFGS(), nil
	default:
		return nil, fmt.Errorf("unknown local method: %s", method)
	}
}

// Method returns the method name
func (g *GonumLocal) Method() string {
	return g.method
}

// Minimize runs the local method from x0. Hitting an evaluation or iteration
// limit is not an error; the best location found is returned.
func (g *GonumLocal) Minimize(f Func, x0 []float64) (Candidate, error) {
	if len(x0) == 0 {
		return Candidate{X: []float64{}, F: f(x0)}, nil
	}

	problem := optimize.Problem{Func: f}

	var method optimize.Method
	switch g.method {
	case MethodBFGS:
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, f, x, &fd.Settings{Formula: fd.Central})
		}
		method = &optimize.BFGS{}
	default:
		method = &optimize.NelderMead{}
	}

	settings := &optimize.Settings{
		FuncEvaluations: g.maxEvaluations,
		MajorIterations: g.maxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   g.convergeAbs,
			Iterations: g.convergePatience,
		},
	}

	result, err := optimize.Minimize(problem, x0, settings, method)
	if result == nil {
		return Candidate{}, fmt.Errorf("%s minimization failed: %w", g.method, err)
	}
	if err != nil {
		// Line-search failures still leave the best location in result
		slog.Debug("Local minimization ended early", "method", g.method, "status", result.Status, "error", err)
	}

	if result.X == nil || math.IsNaN(result.F) {
		start := append([]float64(nil), x0...)
		return Candidate{X: start, F: f(start)}, nil
	}

	return Candidate{X: append([]float64(nil), result.X...), F: result.F}, nil
}
