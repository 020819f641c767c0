package fit

import (
	"fmt"
	"io"

	"github.com/cwbudde/rationfit/internal/catalog"
)

// Violation directions
const (
	Below = "below"
	Above = "above"
)

// IngredientLine is one ingredient's share of the blend
type IngredientLine struct {
	Name    string  `json:"name"`
	Amount  float64 `json:"amount"`
	Percent float64 `json:"percent"`

	// Outside reports a raw amount outside the ingredient's informational
	// [min, max] range, the same units as Catalog.Bounds
	Outside bool `json:"outside,omitempty"`
}

// NutrientLine is one nutrient's blended level and any violation
type NutrientLine struct {
	Name          string  `json:"name"`
	Minimum       float64 `json:"min"`
	Maximum       float64 `json:"max"`
	Concentration float64 `json:"concentration"`
	Violation     string  `json:"violation,omitempty"`
	Difference    float64 `json:"difference,omitempty"`
	PercentOff    float64 `json:"percentOff,omitempty"`
}

// Report is the presentable form of a formulation
type Report struct {
	CostPerUnit float64                `json:"costPerUnit"`
	Objective   float64                `json:"objective"`
	Feasible    bool                   `json:"feasible"`
	Ingredients []IngredientLine       `json:"ingredients"`
	Nutrients   []NutrientLine         `json:"nutrients"`
	Phases      []PhaseResult          `json:"phases,omitempty"`
	Dropped     []catalog.DroppedEntry `json:"dropped,omitempty"`
}

// NewReport builds a report for an amount vector
func NewReport(cat *catalog.Catalog, amounts []float64) *Report {
	blend := Evaluate(cat, amounts)

	r := &Report{
		CostPerUnit: blend.Cost,
		Feasible:    !blend.Degenerate(),
		Ingredients: make([]IngredientLine, cat.NumIngredients()),
		Nutrients:   make([]NutrientLine, cat.NumNutrients()),
		Dropped:     cat.Dropped(),
	}

	for i := range r.Ingredients {
		ing := cat.Ingredient(i)
		pct := blend.Proportions[i] * 100
		r.Ingredients[i] = IngredientLine{
			Name:    ing.Name,
			Amount:  amounts[i],
			Percent: pct,
			Outside: amounts[i] < ing.Minimum || amounts[i] > ing.Maximum,
		}
	}

	for i := range r.Nutrients {
		n := cat.Nutrient(i)
		c := blend.Concentrations[i]
		line := NutrientLine{
			Name:          n.Name,
			Minimum:       n.Minimum,
			Maximum:       n.Maximum,
			Concentration: c,
		}
		switch {
		case c < n.Minimum:
			line.Violation = Below
			line.Difference = n.Minimum - c
			line.PercentOff = relative(line.Difference, n.Minimum)
		case c > n.Maximum:
			line.Violation = Above
			line.Difference = c - n.Maximum
			line.PercentOff = relative(line.Difference, n.Maximum)
		}
		if line.Violation != "" {
			r.Feasible = false
		}
		r.Nutrients[i] = line
	}

	return r
}

// NewFormulationReport builds a report carrying the search diagnostics
func NewFormulationReport(cat *catalog.Catalog, f *Formulation) *Report {
	r := NewReport(cat, f.Amounts)
	r.Objective = f.Objective
	r.Phases = f.Phases
	return r
}

// Violations returns only the nutrient lines outside their bounds
func (r *Report) Violations() []NutrientLine {
	var out []NutrientLine
	for _, n := range r.Nutrients {
		if n.Violation != "" {
			out = append(out, n)
		}
	}
	return out
}

// WriteText prints the human-readable report
func (r *Report) WriteText(w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("Cost per unit $%.2f\n", r.CostPerUnit)
	ew.printf("\n")
	for _, ing := range r.Ingredients {
		if ing.Outside {
			ew.printf("%s: %.5f%% (amount outside inclusion range)\n", ing.Name, ing.Percent)
			continue
		}
		ew.printf("%s: %.5f%%\n", ing.Name, ing.Percent)
	}

	violations := r.Violations()
	if len(violations) > 0 {
		ew.printf("\n")
	}
	for _, n := range violations {
		ew.printf("%s: %g < %.5f < %g: %s by %.3f (%.2f%%)\n",
			n.Name, n.Minimum, n.Concentration, n.Maximum, n.Violation, n.Difference, n.PercentOff)
	}

	if len(r.Phases) > 0 {
		ew.printf("\n")
		for _, p := range r.Phases {
			ew.printf("%s: %.4f -> %.4f (%d/%d accepted)\n",
				p.Name, p.StartValue, p.FinalValue, p.Accepted, p.Iterations)
		}
	}

	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
