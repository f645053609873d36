package annealing

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// synchronized runs one chain per worker in lockstep: no chain starts step
// s+1 before every chain has finished step s. Chains share only the clock
// unless StallSteps is set, in which case a stalled chain adopts the best
// candidate published at the last barrier.
type synchronized struct {
	solverBase
}

func (s *synchronized) Kind() Kind { return SynchronizedParallel }

func (s *synchronized) Solve(ctx context.Context, problem optimization.Problem, workers int) (*optimization.RunResult, error) {
	r, err := s.newRunner(SynchronizedParallel, problem, workers)
	if err != nil {
		return nil, err
	}
	if r.evalTimeout == 0 {
		// A hung evaluation would otherwise stall every peer at the barrier.
		r.evalTimeout = DefaultSyncTimeout
	}
	if ctx.Err() != nil {
		return nil, interruptedBeforeStart(ctx, SynchronizedParallel)
	}
	start := time.Now()

	var (
		published    optimization.Candidate
		hasPublished bool
	)
	b := newBarrier(workers, func() {
		published, hasPublished = r.best.snapshot()
	})

	chains := make([]*chain, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			c, err := r.newChain(ctx, i)
			chains[i] = c
			if err != nil {
				return nil
			}
			if err := b.Wait(ctx); err != nil {
				r.interrupted.Store(true)
				return nil
			}
			for c.step < r.cfg.MaxSteps {
				if r.runTo(ctx, c, c.step+1) {
					return nil
				}
				if err := b.Wait(ctx); err != nil {
					r.interrupted.Store(true)
					return nil
				}
				if s.cfg.StallSteps > 0 && c.stall >= s.cfg.StallSteps && hasPublished && published.Less(c.current) {
					r.logger.Debug("stalled chain adopts global best",
						zap.Int("chain", c.id),
						zap.Uint64("step", c.step),
						zap.Float64("from", c.current.Energy),
						zap.Float64("to", published.Energy),
					)
					c.current = published.Clone()
					c.stall = 0
					r.migrations.Add(1)
					r.opts.recorder.IncMigrations(string(r.kind))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return r.finish(chains, start)
}
