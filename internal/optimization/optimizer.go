package optimization

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Problem is the capability the solvers depend on. A single Problem is
// shared by every chain of a run, so implementations must be safe for
// concurrent use. Energy is expected to block while an external benchmark
// runs.
type Problem interface {
	// InitialState returns the starting point. It is called once per chain.
	InitialState() State

	// Energy returns the cost of a state in [0,1], lower is better. A state
	// that cannot be evaluated yields an error wrapping ErrUnevaluable.
	Energy(ctx context.Context, state State) (float64, error)

	// NewState returns a neighbour of state. rng belongs to the calling
	// chain and is the only randomness the implementation may use if runs
	// are to be reproducible.
	NewState(state State, maxSteps, currentStep uint64, rng *rand.Rand) State
}

// Candidate is a state together with its energy, produced by one chain at
// one step.
type Candidate struct {
	State  State
	Energy float64
}

// Clone returns a candidate that shares no memory with c.
func (c Candidate) Clone() Candidate {
	return Candidate{State: c.State.Clone(), Energy: c.Energy}
}

// Less orders candidates by energy. NaN sorts after every number so a
// broken measurement never wins a reduction.
func (c Candidate) Less(other Candidate) bool {
	if math.IsNaN(c.Energy) {
		return false
	}
	if math.IsNaN(other.Energy) {
		return true
	}
	return c.Energy < other.Energy
}

// RunStats counts what happened during a run.
type RunStats struct {
	Chains      int    `json:"chains"`
	Steps       uint64 `json:"steps"`
	Evaluations uint64 `json:"evaluations"`
	Skipped     uint64 `json:"skipped"`
	Accepted    uint64 `json:"accepted"`
	Migrations  uint64 `json:"migrations"`
}

// RunResult is the single best candidate found by a solver invocation.
type RunResult struct {
	State  State
	Energy float64

	// Solver is the strategy that produced the result.
	Solver string
	// Interrupted is set when the run was cancelled and the result is the
	// best found before the cancellation.
	Interrupted bool
	Duration    time.Duration
	Stats       RunStats
}

// Candidate returns the result as a candidate.
func (r *RunResult) Candidate() Candidate {
	return Candidate{State: r.State, Energy: r.Energy}
}
