package optimization

import (
	"context"
	"math/rand"
	"sync/atomic"
)

// FuncProblem adapts plain functions to the Problem interface. It is used by
// tests across the module and by callers wiring ad-hoc objectives.
type FuncProblem struct {
	Initial  func() State
	Cost     func(ctx context.Context, s State) (float64, error)
	Neighbor func(s State, maxSteps, currentStep uint64, rng *rand.Rand) State

	evaluations atomic.Int64
}

// InitialState implements Problem.
func (p *FuncProblem) InitialState() State {
	return p.Initial()
}

// Energy implements Problem.
func (p *FuncProblem) Energy(ctx context.Context, s State) (float64, error) {
	p.evaluations.Add(1)
	return p.Cost(ctx, s)
}

// NewState implements Problem.
func (p *FuncProblem) NewState(s State, maxSteps, currentStep uint64, rng *rand.Rand) State {
	return p.Neighbor(s, maxSteps, currentStep, rng)
}

// Evaluations returns how many times Energy was called.
func (p *FuncProblem) Evaluations() int64 {
	return p.evaluations.Load()
}

// NewGridProblem returns a deterministic problem over dims parameters, each
// with levels values, whose energy is the normalized squared distance to
// target. Neighbours move one random parameter by one level.
func NewGridProblem(dims []string, levels int, start, target State) *FuncProblem {
	maxDist := float64(len(dims)) * float64((levels-1)*(levels-1))
	if maxDist == 0 {
		maxDist = 1
	}
	return &FuncProblem{
		Initial: func() State { return start.Clone() },
		Cost: func(_ context.Context, s State) (float64, error) {
			sum := 0.0
			for _, k := range dims {
				d := float64(s[k] - target[k])
				sum += d * d
			}
			return sum / maxDist, nil
		},
		Neighbor: func(s State, _, _ uint64, rng *rand.Rand) State {
			next := s.Clone()
			k := dims[rng.Intn(len(dims))]
			delta := 1
			if rng.Intn(2) == 0 {
				delta = -1
			}
			v := next[k] + delta
			if v < 0 || v >= levels {
				v = next[k] - delta
			}
			next[k] = v
			return next
		},
	}
}
