package fit

import (
	"fmt"

	"github.com/cwbudde/rationfit/internal/catalog"
)

// Blend is the derived state of one amount vector
type Blend struct {
	// TotalMass is the sum of the positive amounts; zero marks a degenerate blend
	TotalMass float64

	// Cost is the price per unit mass of the normalized blend
	Cost float64

	// Proportions are the normalized inclusions, aligned with the ingredient order
	Proportions []float64

	// Concentrations are the blended nutrient levels, aligned with the nutrient order
	Concentrations []float64

	catalog *catalog.Catalog
}

// Evaluate normalizes amounts to proportions and blends cost and nutrients.
// Negative amounts contribute nothing. A zero-mass vector yields zero cost and
// zero concentrations.
func Evaluate(c *catalog.Catalog, amounts []float64) Blend {
	if len(amounts) != c.NumIngredients() {
		panic(fmt.Sprintf("amount vector has %d entries, catalog has %d ingredients", len(amounts), c.NumIngredients()))
	}

	b := Blend{
		TotalMass:      TotalMass(amounts),
		Proportions:    make([]float64, len(amounts)),
		Concentrations: make([]float64, c.NumNutrients()),
		catalog:        c,
	}
	if b.TotalMass == 0 {
		return b
	}

	for i, a := range amounts {
		if a <= 0 {
			continue
		}
		p := a / b.TotalMass
		b.Proportions[i] = p
		b.Cost += c.Price(i) * p
		c.EachContribution(i, func(n int, perUnit float64) {
			b.Concentrations[n] += perUnit * p
		})
	}

	return b
}

// Concentration returns the blended level of a nutrient by name.
// Untracked nutrients report zero.
func (b Blend) Concentration(name string) float64 {
	if b.catalog == nil {
		return 0
	}
	if i, ok := b.catalog.NutrientIndex(name); ok {
		return b.Concentrations[i]
	}
	return 0
}

// ConcentrationMap returns the concentrations keyed by nutrient name
func (b Blend) ConcentrationMap() map[string]float64 {
	m := make(map[string]float64, len(b.Concentrations))
	if b.catalog == nil {
		return m
	}
	for i, v := range b.Concentrations {
		m[b.catalog.Nutrient(i).Name] = v
	}
	return m
}

// Degenerate reports whether the blend has no positive mass
func (b Blend) Degenerate() bool {
	return b.TotalMass == 0
}

// TotalMass is the positive-clamped sum of an amount vector
func TotalMass(amounts []float64) float64 {
	var total float64
	for _, a := range amounts {
		if a > 0 {
			total += a
		}
	}
	return total
}
