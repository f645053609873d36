package annealing

import (
	"context"
	"time"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// sequential runs one chain on the calling goroutine.
type sequential struct {
	solverBase
}

func (s *sequential) Kind() Kind { return Sequential }

// Solve ignores workers; the sequential strategy always uses one.
func (s *sequential) Solve(ctx context.Context, problem optimization.Problem, workers int) (*optimization.RunResult, error) {
	r, err := s.newRunner(Sequential, problem, 1)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, interruptedBeforeStart(ctx, Sequential)
	}
	start := time.Now()

	c, err := r.newChain(ctx, 0)
	if err == nil {
		r.runTo(ctx, c, r.cfg.MaxSteps)
	}
	return r.finish([]*chain{c}, start)
}
