package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Record is the external catalog format: nutrient requirements, ingredient
// definitions and a nutrient-contribution chart.
//
// Numeric fields are pointers so that a missing key can be told apart from
// an explicit zero.
type Record struct {
	Nutrients   []NutrientRecord   `json:"nutrients" yaml:"nutrients" validate:"required,dive"`
	Ingredients []IngredientRecord `json:"ingredients" yaml:"ingredients" validate:"required,min=1,dive"`
	Chart       []ChartEntry       `json:"chart" yaml:"chart" validate:"dive"`
}

// NutrientRecord is one row of the nutrient requirements table
type NutrientRecord struct {
	Name string   `json:"name" yaml:"name" validate:"required"`
	Min  *float64 `json:"min" yaml:"min" validate:"required,gte=0"`
	Max  *float64 `json:"max" yaml:"max" validate:"required,gte=0"`
}

// IngredientRecord is one row of the ingredient definitions table
type IngredientRecord struct {
	Name string   `json:"name" yaml:"name" validate:"required"`
	Cost *float64 `json:"cost" yaml:"cost" validate:"required,gte=0"`
	Min  *float64 `json:"min,omitempty" yaml:"min,omitempty" validate:"omitempty,gte=0"`
	Max  *float64 `json:"max,omitempty" yaml:"max,omitempty" validate:"omitempty,gte=0"`
}

// ChartEntry is one (ingredient, nutrient, amount) cell of the contribution chart
type ChartEntry struct {
	Ingredient string   `json:"ingredient" yaml:"ingredient" validate:"required"`
	Nutrient   string   `json:"nutrient" yaml:"nutrient" validate:"required"`
	Amount     *float64 `json:"amount" yaml:"amount" validate:"required"`
}

// BuildOptions controls how a record is turned into a Catalog
type BuildOptions struct {
	// Strict rejects chart rows naming unknown ingredients or nutrients
	// instead of dropping them.
	Strict bool
}

var recordValidate = validator.New()

// SchemaError reports a malformed catalog record.
type SchemaError struct {
	Field  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := "schema error: " + e.Field + " " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Validate checks the record for missing or out-of-range fields
func (r *Record) Validate() error {
	err := recordValidate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		return &SchemaError{
			Field:  fieldPath(first.Namespace()),
			Reason: fmt.Sprintf("failed %q check", first.Tag()),
			Err:    err,
		}
	}
	return &SchemaError{Field: "record", Reason: "invalid", Err: err}
}

// fieldPath strips the root type name from a validator namespace,
// "Record.Nutrients[0].Min" becomes "Nutrients[0].Min".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Build validates the record and assembles an immutable Catalog
func (r *Record) Build(opts BuildOptions) (*Catalog, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	nutrients := make([]Nutrient, len(r.Nutrients))
	known := make(map[string]bool, len(r.Nutrients))
	for i, n := range r.Nutrients {
		nutrients[i] = Nutrient{Name: n.Name, Minimum: *n.Min, Maximum: *n.Max}
		known[n.Name] = true
	}

	ingredients := make([]Ingredient, len(r.Ingredients))
	position := make(map[string]int, len(r.Ingredients))
	for i, ing := range r.Ingredients {
		ingredients[i] = Ingredient{
			Name:    ing.Name,
			Price:   *ing.Cost,
			Minimum: valueOr(ing.Min, DefaultIngredientMin),
			Maximum: valueOr(ing.Max, DefaultIngredientMax),
		}
		if _, dup := position[ing.Name]; !dup {
			position[ing.Name] = i
		}
	}

	var dropped []DroppedEntry
	for i, row := range r.Chart {
		reason := ""
		idx, ok := position[row.Ingredient]
		switch {
		case !ok:
			reason = "unknown ingredient"
		case !known[row.Nutrient]:
			reason = "unknown nutrient"
		}

		if reason != "" {
			if opts.Strict {
				return nil, &SchemaError{
					Field:  fmt.Sprintf("Chart[%d]", i),
					Reason: fmt.Sprintf("%s (%s / %s)", reason, row.Ingredient, row.Nutrient),
				}
			}
			slog.Warn("Dropping chart entry", "ingredient", row.Ingredient, "nutrient", row.Nutrient, "reason", reason)
			dropped = append(dropped, DroppedEntry{
				Ingredient: row.Ingredient,
				Nutrient:   row.Nutrient,
				Amount:     *row.Amount,
				Reason:     reason,
			})
			continue
		}

		ingredients[idx].Provides = append(ingredients[idx].Provides, Contribution{
			Nutrient: row.Nutrient,
			Amount:   *row.Amount,
		})
	}

	c, err := New(ingredients, nutrients)
	if err != nil {
		return nil, err
	}
	c.dropped = dropped
	return c, nil
}

// ToRecord converts a catalog back into its external form
func (c *Catalog) ToRecord() Record {
	r := Record{
		Nutrients:   make([]NutrientRecord, len(c.nutrients)),
		Ingredients: make([]IngredientRecord, len(c.ingredients)),
	}
	for i, n := range c.nutrients {
		r.Nutrients[i] = NutrientRecord{Name: n.Name, Min: ptr(n.Minimum), Max: ptr(n.Maximum)}
	}
	for i, ing := range c.ingredients {
		r.Ingredients[i] = IngredientRecord{
			Name: ing.Name,
			Cost: ptr(ing.Price),
			Min:  ptr(ing.Minimum),
			Max:  ptr(ing.Maximum),
		}
		for _, p := range ing.Provides {
			r.Chart = append(r.Chart, ChartEntry{Ingredient: ing.Name, Nutrient: p.Nutrient, Amount: ptr(p.Amount)})
		}
	}
	return r
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func ptr(v float64) *float64 {
	return &v
}
