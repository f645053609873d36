package annealing

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// population evolves PopulationSize chains on at most workers goroutines.
// Every MigrationInterval steps the workers rendezvous, the population is
// ranked by current energy and the worst members restart from copies of
// the best. Each member keeps its own RNG, so the outcome does not depend
// on how members are spread over workers.
type population struct {
	solverBase
}

func (s *population) Kind() Kind { return PopulationParallel }

func (s *population) Solve(ctx context.Context, problem optimization.Problem, workers int) (*optimization.RunResult, error) {
	r, err := s.newRunner(PopulationParallel, problem, workers)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, interruptedBeforeStart(ctx, PopulationParallel)
	}
	start := time.Now()

	size := s.cfg.PopulationSize
	if workers > size {
		workers = size
	}
	members := make([]*chain, size)

	// forEach runs fn over the members, member i on worker i%workers.
	forEach := func(fn func(i int) bool) {
		var g errgroup.Group
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for i := w; i < size; i += workers {
					if !fn(i) {
						return nil
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	forEach(func(i int) bool {
		c, err := r.newChain(ctx, i)
		members[i] = c
		return err == nil
	})

	for done := uint64(0); done < s.cfg.MaxSteps && !r.interrupted.Load(); {
		end := done + s.cfg.MigrationInterval
		if end > s.cfg.MaxSteps {
			end = s.cfg.MaxSteps
		}
		forEach(func(i int) bool {
			return !r.runTo(ctx, members[i], end)
		})
		done = end
		if done < s.cfg.MaxSteps && !r.interrupted.Load() {
			s.migrate(r, members)
		}
	}

	return r.finish(members, start)
}

// migrate replaces the worst members' current candidates with copies of
// the best ones. It runs between phases, when no worker is active.
func (s *population) migrate(r *runner, members []*chain) {
	n := len(members)
	if n < 2 {
		return
	}
	k := int(math.Round(float64(n) * s.cfg.MigrationFraction))
	if k < 1 {
		k = 1
	}
	if k > n/2 {
		k = n / 2
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return members[order[a]].current.Less(members[order[b]].current)
	})

	for j := 0; j < k; j++ {
		src := members[order[j]]
		dst := members[order[n-1-j]]
		if !src.current.Less(dst.current) {
			continue
		}
		dst.current = src.current.Clone()
		dst.stall = 0
		r.migrations.Add(1)
		r.opts.recorder.IncMigrations(string(r.kind))
	}
	r.logger.Debug("population migrated",
		zap.Int("replaced", k),
		zap.Float64("best", members[order[0]].current.Energy),
		zap.Float64("worst", members[order[n-1]].current.Energy),
	)
}
