package annealing

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// independent runs one chain per worker with no coordination at all. Each
// chain has its own RNG seeded from the run seed and its index, so with a
// deterministic Problem the result is reproducible.
type independent struct {
	solverBase
}

func (s *independent) Kind() Kind { return IndependentParallel }

func (s *independent) Solve(ctx context.Context, problem optimization.Problem, workers int) (*optimization.RunResult, error) {
	r, err := s.newRunner(IndependentParallel, problem, workers)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, interruptedBeforeStart(ctx, IndependentParallel)
	}
	start := time.Now()

	chains := make([]*chain, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			c, err := r.newChain(ctx, i)
			chains[i] = c
			if err != nil {
				return nil
			}
			r.runTo(ctx, c, r.cfg.MaxSteps)
			return nil
		})
	}
	_ = g.Wait()

	return r.finish(chains, start)
}
