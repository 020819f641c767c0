package store

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cwbudde/rationfit/internal/catalog"
	"github.com/cwbudde/rationfit/internal/config"
	"github.com/cwbudde/rationfit/internal/fit"
)

// JobConfig holds everything needed to rerun a formulation job.
// The catalog is stored as its record so a checkpoint is self-contained.
type JobConfig struct {
	Catalog            catalog.Record  `json:"catalog"`
	CatalogPath        string          `json:"catalogPath,omitempty"`
	Strict             bool            `json:"strict,omitempty"`
	Settings           config.Settings `json:"settings"`
	CheckpointInterval int             `json:"checkpointInterval,omitempty"` // Checkpoint every N seconds (0 = only at phase ends)
}

// BuildCatalog turns the stored record back into a catalog
func (c JobConfig) BuildCatalog() (*catalog.Catalog, error) {
	return c.Catalog.Build(catalog.BuildOptions{Strict: c.Strict})
}

// IngredientNames lists the ingredient names in vector order
func (c JobConfig) IngredientNames() []string {
	names := make([]string, len(c.Catalog.Ingredients))
	for i, ing := range c.Catalog.Ingredients {
		names[i] = ing.Name
	}
	return names
}

// Checkpoint is the best blend found so far by a job.
//
// Only the accepted amount vector is saved. The search step size and random
// state are not; a resumed job starts a fresh two-phase search from
// BestAmounts with the stored settings, so its trajectory differs from an
// uninterrupted run.
type Checkpoint struct {
	// JobID is the unique identifier for this formulation job
	JobID string `json:"jobId"`

	// BestAmounts is the accepted amount vector, one entry per ingredient
	BestAmounts []float64 `json:"bestAmounts"`

	// BestCost is the penalized objective of BestAmounts under the
	// coefficients of Phase
	BestCost float64 `json:"bestCost"`

	// BaseCost is the unpenalized price per unit of BestAmounts
	BaseCost float64 `json:"baseCost"`

	// Iteration is the global-search iteration within Phase
	Iteration int `json:"iteration"`

	// Phase is the search phase that produced BestAmounts
	Phase string `json:"phase"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config is the job configuration, checked for compatibility on resume
	Config JobConfig `json:"config"`
}

// CheckpointInfo is checkpoint metadata without the amount vector or catalog
type CheckpointInfo struct {
	JobID       string    `json:"jobId"`
	BestCost    float64   `json:"bestCost"`
	BaseCost    float64   `json:"baseCost"`
	Iteration   int       `json:"iteration"`
	Phase       string    `json:"phase"`
	Timestamp   time.Time `json:"timestamp"`
	Ingredients int       `json:"ingredients"`
	Nutrients   int       `json:"nutrients"`
	CatalogPath string    `json:"catalogPath,omitempty"`
}

// NewCheckpoint creates a checkpoint from job state
func NewCheckpoint(jobID string, bestAmounts []float64, bestCost, baseCost float64, iteration int, phase string, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestAmounts: append([]float64(nil), bestAmounts...),
		BestCost:    bestCost,
		BaseCost:    baseCost,
		Iteration:   iteration,
		Phase:       phase,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:       c.JobID,
		BestCost:    c.BestCost,
		BaseCost:    c.BaseCost,
		Iteration:   c.Iteration,
		Phase:       c.Phase,
		Timestamp:   c.Timestamp,
		Ingredients: len(c.Config.Catalog.Ingredients),
		Nutrients:   len(c.Config.Catalog.Nutrients),
		CatalogPath: c.Config.CatalogPath,
	}
}

// Validate checks that the checkpoint can be resumed
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestAmounts) == 0 {
		return &ValidationError{Field: "BestAmounts", Reason: "cannot be empty"}
	}
	for _, a := range c.BestAmounts {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return &ValidationError{Field: "BestAmounts", Reason: "must be finite"}
		}
	}
	if math.IsNaN(c.BestCost) {
		return &ValidationError{Field: "BestCost", Reason: "cannot be NaN"}
	}
	if c.BaseCost < 0 {
		return &ValidationError{Field: "BaseCost", Reason: "cannot be negative"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Phase != fit.PhaseExploration && c.Phase != fit.PhaseRefinement {
		return &ValidationError{Field: "Phase", Reason: fmt.Sprintf("unknown phase %q", c.Phase)}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Catalog.Validate(); err != nil {
		return &ValidationError{Field: "Config.Catalog", Reason: err.Error()}
	}
	if err := c.Config.Settings.Validate(); err != nil {
		return &ValidationError{Field: "Config.Settings", Reason: err.Error()}
	}
	if want := len(c.Config.Catalog.Ingredients); len(c.BestAmounts) != want {
		return &ValidationError{
			Field:  "BestAmounts",
			Reason: fmt.Sprintf("length mismatch: expected %d amounts for %d ingredients", want, want),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether BestAmounts can seed a run with config:
// the ingredient list must match name for name, in order.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	have := c.Config.IngredientNames()
	want := config.IngredientNames()
	if len(have) != len(want) {
		return &CompatibilityError{
			Field:    "Ingredients",
			Expected: fmt.Sprintf("%d", len(have)),
			Actual:   fmt.Sprintf("%d", len(want)),
		}
	}
	for i := range have {
		if have[i] != want[i] {
			return &CompatibilityError{
				Field:    fmt.Sprintf("Ingredients[%d]", i),
				Expected: have[i],
				Actual:   want[i],
			}
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}

// Summary renders the ingredient list for log lines
func (c CheckpointInfo) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d ingredients, %d nutrients", c.Ingredients, c.Nutrients)
	if c.CatalogPath != "" {
		fmt.Fprintf(&b, " from %s", c.CatalogPath)
	}
	return b.String()
}
