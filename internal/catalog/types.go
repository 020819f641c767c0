package catalog

import "fmt"

// Default inclusion range for an ingredient, in raw amount units.
const (
	DefaultIngredientMin = 0.0
	DefaultIngredientMax = 100.0
)

// Nutrient is a measured constituent with an acceptable concentration range
type Nutrient struct {
	Name    string  `json:"name"`
	Minimum float64 `json:"min"`
	Maximum float64 `json:"max"`
}

// Contribution is the amount of a nutrient supplied per unit of ingredient
type Contribution struct {
	Nutrient string  `json:"nutrient"`
	Amount   float64 `json:"amount"`
}

// Ingredient is a purchasable component of the ration.
// Minimum and Maximum are informational; the search does not enforce them.
type Ingredient struct {
	Name     string         `json:"name"`
	Price    float64        `json:"price"`
	Provides []Contribution `json:"provides"`
	Minimum  float64        `json:"min"`
	Maximum  float64        `json:"max"`
}

// DroppedEntry records a chart row that could not be matched
type DroppedEntry struct {
	Ingredient string  `json:"ingredient"`
	Nutrient   string  `json:"nutrient"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason"`
}

// contribution resolved to a nutrient index
type resolved struct {
	nutrient int
	amount   float64
}

// Catalog is the immutable set of ingredients and nutrients for one run.
// Amount vectors map positionally onto Ingredients().
type Catalog struct {
	ingredients []Ingredient
	nutrients   []Nutrient
	index       map[string]int
	provides    [][]resolved
	dropped     []DroppedEntry
}

// New builds a catalog from ingredients and nutrients.
// Contributions that name a nutrient not in the catalog are kept on the
// ingredient but never counted.
func New(ingredients []Ingredient, nutrients []Nutrient) (*Catalog, error) {
	c := &Catalog{
		ingredients: make([]Ingredient, len(ingredients)),
		nutrients:   make([]Nutrient, len(nutrients)),
		index:       make(map[string]int, len(nutrients)),
		provides:    make([][]resolved, len(ingredients)),
	}

	for i, n := range nutrients {
		if n.Name == "" {
			return nil, &SchemaError{Field: fmt.Sprintf("nutrients[%d].name", i), Reason: "cannot be empty"}
		}
		if _, dup := c.index[n.Name]; dup {
			return nil, &SchemaError{Field: fmt.Sprintf("nutrients[%d].name", i), Reason: "duplicate nutrient " + n.Name}
		}
		if n.Minimum < 0 || n.Maximum < n.Minimum {
			return nil, &SchemaError{
				Field:  fmt.Sprintf("nutrients[%d]", i),
				Reason: fmt.Sprintf("bounds must satisfy 0 <= min <= max, got [%g, %g]", n.Minimum, n.Maximum),
			}
		}
		c.nutrients[i] = n
		c.index[n.Name] = i
	}

	seen := make(map[string]bool, len(ingredients))
	for i, ing := range ingredients {
		if ing.Name == "" {
			return nil, &SchemaError{Field: fmt.Sprintf("ingredients[%d].name", i), Reason: "cannot be empty"}
		}
		if seen[ing.Name] {
			return nil, &SchemaError{Field: fmt.Sprintf("ingredients[%d].name", i), Reason: "duplicate ingredient " + ing.Name}
		}
		if ing.Price < 0 {
			return nil, &SchemaError{Field: fmt.Sprintf("ingredients[%d].cost", i), Reason: "cannot be negative"}
		}
		if ing.Maximum < ing.Minimum {
			return nil, &SchemaError{
				Field:  fmt.Sprintf("ingredients[%d]", i),
				Reason: fmt.Sprintf("inclusion range must satisfy min <= max, got [%g, %g]", ing.Minimum, ing.Maximum),
			}
		}
		seen[ing.Name] = true

		ing.Provides = append([]Contribution(nil), ing.Provides...)
		c.ingredients[i] = ing
		for _, p := range ing.Provides {
			if idx, ok := c.index[p.Nutrient]; ok {
				c.provides[i] = append(c.provides[i], resolved{nutrient: idx, amount: p.Amount})
			}
		}
	}

	return c, nil
}

// Ingredients returns a copy of the ingredients in vector order
func (c *Catalog) Ingredients() []Ingredient {
	return append([]Ingredient(nil), c.ingredients...)
}

// Nutrients returns a copy of the nutrients in report order
func (c *Catalog) Nutrients() []Nutrient {
	return append([]Nutrient(nil), c.nutrients...)
}

// Ingredient returns the ingredient at vector position i
func (c *Catalog) Ingredient(i int) Ingredient {
	return c.ingredients[i]
}

// Nutrient returns the nutrient at report position i
func (c *Catalog) Nutrient(i int) Nutrient {
	return c.nutrients[i]
}

// NumIngredients is the dimension of an amount vector
func (c *Catalog) NumIngredients() int {
	return len(c.ingredients)
}

// NumNutrients returns how many nutrients are tracked
func (c *Catalog) NumNutrients() int {
	return len(c.nutrients)
}

// NutrientIndex looks up a nutrient position by name
func (c *Catalog) NutrientIndex(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Price returns the price of ingredient i
func (c *Catalog) Price(i int) float64 {
	return c.ingredients[i].Price
}

// EachContribution calls fn for every tracked nutrient ingredient i provides.
func (c *Catalog) EachContribution(i int, fn func(nutrient int, amount float64)) {
	for _, r := range c.provides[i] {
		fn(r.nutrient, r.amount)
	}
}

// MinimumVector returns the minimum-inclusion amounts, the default search start
func (c *Catalog) MinimumVector() []float64 {
	v := make([]float64, len(c.ingredients))
	for i, ing := range c.ingredients {
		v[i] = ing.Minimum
	}
	return v
}

// Bounds returns the per-ingredient inclusion box
func (c *Catalog) Bounds() (lower, upper []float64) {
	lower = make([]float64, len(c.ingredients))
	upper = make([]float64, len(c.ingredients))
	for i, ing := range c.ingredients {
		lower[i] = ing.Minimum
		upper[i] = ing.Maximum
	}
	return lower, upper
}

// Dropped lists chart rows discarded while loading
func (c *Catalog) Dropped() []DroppedEntry {
	return append([]DroppedEntry(nil), c.dropped...)
}
