package fit

import (
	"errors"
	"fmt"

	"github.com/cwbudde/rationfit/internal/catalog"
)

// ErrInvalidCoefficients is returned when a penalty coefficient is not positive
var ErrInvalidCoefficients = errors.New("penalty coefficients must be positive")

// Coefficients tune how hard nutrient violations are priced.
// Larger values soften the relative term and the below-minimum term.
type Coefficients struct {
	Spring      float64 `json:"spring" yaml:"spring"`
	PercentTune float64 `json:"percentTune" yaml:"percentTune"`
}

// NewCoefficients builds validated penalty coefficients
func NewCoefficients(spring, percentTune float64) (Coefficients, error) {
	k := Coefficients{Spring: spring, PercentTune: percentTune}
	if err := k.Validate(); err != nil {
		return Coefficients{}, err
	}
	return k, nil
}

// Validate checks that both coefficients are strictly positive
func (k Coefficients) Validate() error {
	if !(k.Spring > 0) || !(k.PercentTune > 0) {
		return fmt.Errorf("%w: spring=%g percentTune=%g", ErrInvalidCoefficients, k.Spring, k.PercentTune)
	}
	return nil
}

// NutrientPenalty prices one nutrient's deviation from [n.Minimum, n.Maximum].
//
// Shortfalls cost diff/spring plus the squared relative term; excesses cost
// (diff*spring)^2 plus the squared relative term. The relative term is
// dropped when the violated bound is zero.
func NutrientPenalty(n catalog.Nutrient, concentration float64, k Coefficients) float64 {
	switch {
	case concentration < n.Minimum:
		diff := n.Minimum - concentration
		rel := relative(diff, n.Minimum) / k.PercentTune
		return diff/k.Spring + rel*rel
	case concentration > n.Maximum:
		diff := concentration - n.Maximum
		abs := diff * k.Spring
		rel := relative(diff, n.Maximum) / k.PercentTune
		return abs*abs + rel*rel
	default:
		return 0
	}
}

// Penalty sums NutrientPenalty over every catalog nutrient.
// concentrations must be aligned with the catalog's nutrient order.
func Penalty(c *catalog.Catalog, concentrations []float64, k Coefficients) float64 {
	var total float64
	for i, v := range concentrations {
		total += NutrientPenalty(c.Nutrient(i), v, k)
	}
	return total
}

// relative returns diff as a percentage of bound, or 0 for a zero bound
func relative(diff, bound float64) float64 {
	if bound == 0 {
		return 0
	}
	return 100 * diff / bound
}
