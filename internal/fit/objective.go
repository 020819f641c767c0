package fit

import (
	"github.com/cwbudde/rationfit/internal/catalog"
	"github.com/cwbudde/rationfit/internal/opt"
)

// Objective is the scalar function minimized by the search:
// blend cost plus the nutrient penalty.
type Objective struct {
	Catalog      *catalog.Catalog
	Coefficients Coefficients
}

// NewObjective binds a catalog to validated coefficients
func NewObjective(c *catalog.Catalog, k Coefficients) (Objective, error) {
	if err := k.Validate(); err != nil {
		return Objective{}, err
	}
	return Objective{Catalog: c, Coefficients: k}, nil
}

// Value evaluates amounts. With baseCostOnly the penalty is skipped and the
// plain blend cost is returned; the search never uses that mode.
func (o Objective) Value(amounts []float64, baseCostOnly bool) float64 {
	b := Evaluate(o.Catalog, amounts)
	if baseCostOnly {
		return b.Cost
	}
	return b.Cost + Penalty(o.Catalog, b.Concentrations, o.Coefficients)
}

// Func returns the penalized objective in the form the optimizers consume
func (o Objective) Func() opt.Func {
	return func(amounts []float64) float64 {
		return o.Value(amounts, false)
	}
}

// BaseCost returns the unpenalized price of a blend
func (o Objective) BaseCost(amounts []float64) float64 {
	return o.Value(amounts, true)
}
