package fit

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines when a search phase is considered converged
type ConvergenceConfig struct {
	// Enabled controls whether early stopping is active
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Patience is the number of global-search iterations without a
	// significant improvement of the accepted objective before stopping
	Patience int `json:"patience" yaml:"patience" validate:"gte=0"`

	// Threshold is the minimum relative improvement that counts as progress.
	// Relative improvement = (last - current) / |last|
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gte=0"`
}

// DefaultConvergenceConfig returns the early-stop settings used when enabled
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  25,
		Threshold: 1e-6,
	}
}

// DisabledConvergenceConfig runs every phase for its full iteration budget
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{Enabled: false}
}

// ConvergenceTracker watches the accepted objective of one phase
type ConvergenceTracker struct {
	config          ConvergenceConfig
	history         []float64
	best            float64
	lastSignificant float64
	stale           int
}

// NewConvergenceTracker creates a tracker for one phase
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		best:            math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records the accepted objective after an iteration and reports
// whether the phase has converged
func (c *ConvergenceTracker) Update(value float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.history = append(c.history, value)
	if value < c.best {
		c.best = value
	}

	if len(c.history) == 1 {
		c.lastSignificant = value
		return false
	}

	var improvement float64
	switch {
	case c.lastSignificant == value:
		improvement = 0
	case c.lastSignificant == 0:
		improvement = math.Inf(1)
	default:
		improvement = (c.lastSignificant - value) / math.Abs(c.lastSignificant)
	}

	if improvement > 0 && improvement >= c.config.Threshold {
		c.lastSignificant = value
		c.stale = 0
		return false
	}

	c.stale++
	if c.stale >= c.config.Patience {
		slog.Debug("Phase converged",
			"stale_iterations", c.stale,
			"patience", c.config.Patience,
			"best", c.best,
		)
		return true
	}
	return false
}

// Best returns the lowest objective seen
func (c *ConvergenceTracker) Best() float64 {
	return c.best
}

// History returns a copy of the recorded objective values
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.history...)
}

// StaleCount returns the iterations since the last significant improvement
func (c *ConvergenceTracker) StaleCount() int {
	return c.stale
}
