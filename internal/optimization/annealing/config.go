package annealing

import (
	"fmt"
	"math"
	"time"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// Kind names a solver strategy.
type Kind string

const (
	// Sequential runs a single chain.
	Sequential Kind = "seqsa"
	// SynchronizedParallel runs one chain per worker, barrier-synchronized
	// after every step.
	SynchronizedParallel Kind = "spisa"
	// IndependentParallel runs one unsynchronized chain per worker.
	IndependentParallel Kind = "mir"
	// PopulationParallel evolves a population across the workers with
	// periodic migration from the best members to the worst.
	PopulationParallel Kind = "prsa"
)

// ParseKind accepts the short solver names and their long forms.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "seqsa", "sequential":
		return Sequential, nil
	case "spisa", "synchronized-parallel":
		return SynchronizedParallel, nil
	case "mir", "independent-parallel":
		return IndependentParallel, nil
	case "prsa", "population-parallel":
		return PopulationParallel, nil
	default:
		return "", fmt.Errorf("solver version %q: not a valid value", s)
	}
}

// Parallel reports whether the strategy uses more than one worker.
func (k Kind) Parallel() bool {
	return k != Sequential
}

const (
	// DefaultMinTemp is used when the minimum temperature is not supplied.
	DefaultMinTemp = 1.0
	// DefaultPopulationSize is the population of the prsa strategy.
	DefaultPopulationSize = 32
	// DefaultMigrationFraction is the share of the population replaced at
	// each migration.
	DefaultMigrationFraction = 0.25
	// DefaultSyncTimeout bounds a single evaluation in the barrier-based
	// strategy when no EvalTimeout is configured.
	DefaultSyncTimeout = 10 * time.Minute
)

// Config holds the immutable parameters of a run.
type Config struct {
	MinTemp  float64
	MaxTemp  float64
	MaxSteps uint64
	Cooling  CoolingSchedule

	// EnergyType is passed through to the cost collaborator and is not
	// interpreted here.
	EnergyType string

	// PopulationSize, MigrationInterval and MigrationFraction apply to
	// PopulationParallel only. A zero interval means MaxSteps/10.
	PopulationSize    int
	MigrationInterval uint64
	MigrationFraction float64

	// StallSteps enables global-best substitution in SynchronizedParallel:
	// a chain whose current energy has not improved for this many
	// consecutive steps adopts the best candidate seen by any chain.
	// Zero keeps the chains independent.
	StallSteps uint64

	// EvalTimeout bounds each energy evaluation. Zero means no bound,
	// except in SynchronizedParallel where DefaultSyncTimeout applies.
	EvalTimeout time.Duration

	// Seed is the run-level seed. Chain i is seeded with Seed+i. Zero
	// picks a time-based seed.
	Seed int64
}

// withDefaults fills the optional fields.
func (c Config) withDefaults() Config {
	if c.PopulationSize == 0 {
		c.PopulationSize = DefaultPopulationSize
	}
	if c.MigrationFraction == 0 {
		c.MigrationFraction = DefaultMigrationFraction
	}
	if c.MigrationInterval == 0 {
		c.MigrationInterval = c.MaxSteps / 10
		if c.MigrationInterval == 0 {
			c.MigrationInterval = 1
		}
	}
	return c
}

// Validate checks the configuration for a run of the given strategy.
func (c Config) Validate(kind Kind, workers int) error {
	invalid := func(format string, args ...interface{}) error {
		return optimization.NewError(optimization.ErrInvalidConfig, format, args...).
			WithComponent("annealing").
			WithOperation("validate")
	}

	switch kind {
	case Sequential, SynchronizedParallel, IndependentParallel, PopulationParallel:
	default:
		return invalid("unknown solver %q", string(kind))
	}
	if math.IsNaN(c.MinTemp) || c.MinTemp <= 0 {
		return invalid("min_temp must be positive, got %v", c.MinTemp)
	}
	if math.IsNaN(c.MaxTemp) || math.IsInf(c.MaxTemp, 0) || c.MaxTemp <= c.MinTemp {
		return invalid("max_temp must be finite and greater than min_temp (%v), got %v", c.MinTemp, c.MaxTemp)
	}
	if c.MaxSteps == 0 {
		return invalid("max_steps must be positive")
	}
	if !c.Cooling.Valid() {
		return invalid("cooling schedule %q: not a valid value", string(c.Cooling))
	}
	if kind.Parallel() && workers < 1 {
		return invalid("%s needs at least one worker, got %d", kind, workers)
	}
	if c.EvalTimeout < 0 {
		return invalid("eval_timeout must not be negative, got %s", c.EvalTimeout)
	}
	if kind == PopulationParallel {
		if c.PopulationSize < 1 {
			return invalid("population_size must be positive, got %d", c.PopulationSize)
		}
		if c.MigrationFraction <= 0 || c.MigrationFraction > 0.5 {
			return invalid("migration_fraction must be in (0, 0.5], got %v", c.MigrationFraction)
		}
	}
	return nil
}
