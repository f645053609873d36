package annealing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// chain is one annealing trajectory. Only the goroutine running it touches
// its fields, except during the rendezvous points of a strategy.
type chain struct {
	id      int
	rng     *rand.Rand
	current optimization.Candidate
	best    optimization.Candidate
	step    uint64
	// stall counts consecutive steps without an improvement of current.
	stall uint64
}

// bestTracker holds the best candidate seen by any chain of a run.
type bestTracker struct {
	mu    sync.Mutex
	set   bool
	chain int
	best  optimization.Candidate
}

// offer records c if it beats the current best. Equal energies go to the
// lower chain id so the outcome does not depend on goroutine scheduling.
func (b *bestTracker) offer(chainID int, c optimization.Candidate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.set {
		if !c.Less(b.best) && !(c.Energy == b.best.Energy && chainID < b.chain) {
			return false
		}
	}
	b.set = true
	b.chain = chainID
	b.best = c.Clone()
	return true
}

func (b *bestTracker) snapshot() (optimization.Candidate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.best, b.set
}

// runner carries what every chain of one Solve call shares.
type runner struct {
	kind        Kind
	cfg         Config
	problem     optimization.Problem
	opts        options
	logger      *zap.Logger
	seed        int64
	evalTimeout time.Duration
	best        bestTracker
	interrupted atomic.Bool

	steps       atomic.Uint64
	evaluations atomic.Uint64
	skipped     atomic.Uint64
	accepted    atomic.Uint64
	migrations  atomic.Uint64
}

func (s solverBase) newRunner(kind Kind, problem optimization.Problem, workers int) (*runner, error) {
	if err := s.cfg.Validate(kind, workers); err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, optimization.NewError(optimization.ErrInvalidConfig, "problem is nil").
			WithComponent("annealing")
	}
	seed := s.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := &runner{
		kind:        kind,
		cfg:         s.cfg,
		problem:     problem,
		opts:        s.opts,
		logger:      s.opts.logger.With(zap.String("solver", string(kind))),
		seed:        seed,
		evalTimeout: s.cfg.EvalTimeout,
	}
	r.logger.Info("starting annealing run",
		zap.Int("workers", workers),
		zap.Uint64("max_steps", s.cfg.MaxSteps),
		zap.Float64("min_temp", s.cfg.MinTemp),
		zap.Float64("max_temp", s.cfg.MaxTemp),
		zap.String("cooling", string(s.cfg.Cooling)),
		zap.String("energy_type", s.cfg.EnergyType),
		zap.Int64("seed", seed),
	)
	return r, nil
}

func (r *runner) evaluate(ctx context.Context, s optimization.State) (float64, error) {
	start := time.Now()
	e, err := evaluate(ctx, r.problem, s, r.evalTimeout)
	if errors.Is(err, optimization.ErrInterrupted) {
		return 0, err
	}
	r.evaluations.Add(1)
	r.opts.recorder.ObserveEvaluation(string(r.kind), time.Since(start), err)
	return e, err
}

// newChain creates chain id and evaluates its initial state. The chain is
// always returned so it can take part in the final reduction; a non-nil
// error means the run was interrupted during the evaluation.
func (r *runner) newChain(ctx context.Context, id int) (*chain, error) {
	c := &chain{
		id:  id,
		rng: rand.New(rand.NewSource(r.seed + int64(id))),
	}
	state := r.problem.InitialState()
	energy, err := r.evaluate(ctx, state)
	if err != nil {
		energy = math.Inf(1)
		if errors.Is(err, optimization.ErrInterrupted) {
			r.interrupted.Store(true)
		} else {
			r.skipped.Add(1)
			r.logger.Warn("initial state is unevaluable, starting from +Inf",
				zap.Int("chain", id),
				zap.Error(err),
			)
		}
	}
	c.current = optimization.Candidate{State: state, Energy: energy}
	c.best = c.current
	r.publish(c)
	if errors.Is(err, optimization.ErrInterrupted) {
		return c, err
	}
	return c, nil
}

// step performs Propose, Evaluate and Decide for one step of c. It returns
// a non-nil error only when the run was interrupted.
func (r *runner) step(ctx context.Context, c *chain) error {
	temp := r.cfg.Cooling.Temperature(r.cfg.MinTemp, r.cfg.MaxTemp, r.cfg.MaxSteps, c.step)
	next := r.problem.NewState(c.current.State, r.cfg.MaxSteps, c.step, c.rng)
	c.step++
	r.steps.Add(1)

	if !next.SameKeys(c.current.State) {
		r.skipped.Add(1)
		c.stall++
		r.logger.Error("neighbour changed the parameter set, skipping",
			zap.Int("chain", c.id),
			zap.Uint64("step", c.step),
			zap.Stringer("state", next),
		)
		return nil
	}

	energy, err := r.evaluate(ctx, next)
	if err != nil {
		if errors.Is(err, optimization.ErrInterrupted) {
			r.interrupted.Store(true)
			return err
		}
		r.skipped.Add(1)
		c.stall++
		r.logger.Debug("skipping unevaluable neighbour",
			zap.Int("chain", c.id),
			zap.Uint64("step", c.step),
			zap.Stringer("state", next),
			zap.Error(err),
		)
		return nil
	}

	if Accept(c.current.Energy, energy, temp, c.rng.Float64()) {
		if energy < c.current.Energy {
			c.stall = 0
		} else {
			c.stall++
		}
		c.current = optimization.Candidate{State: next, Energy: energy}
		r.accepted.Add(1)
		r.opts.recorder.IncAccepted(string(r.kind))
	} else {
		c.stall++
	}
	if c.current.Less(c.best) {
		c.best = c.current
		r.publish(c)
	}

	r.opts.recorder.SetTemperature(string(r.kind), temp)
	if r.opts.progress != nil {
		best, _ := r.best.snapshot()
		r.opts.progress(Progress{
			Solver:      r.kind,
			Chain:       c.id,
			Step:        c.step,
			MaxSteps:    r.cfg.MaxSteps,
			Temperature: temp,
			Energy:      c.current.Energy,
			BestEnergy:  best.Energy,
		})
	}
	return nil
}

// runTo steps c until it reaches step end or ctx is cancelled. It reports
// whether the chain was interrupted.
func (r *runner) runTo(ctx context.Context, c *chain, end uint64) bool {
	for c.step < end {
		if ctx.Err() != nil {
			r.interrupted.Store(true)
			return true
		}
		if err := r.step(ctx, c); err != nil {
			return true
		}
	}
	return false
}

func (r *runner) publish(c *chain) {
	if r.best.offer(c.id, c.best) {
		r.opts.recorder.SetBestEnergy(string(r.kind), c.best.Energy)
	}
}

// finish reduces the chains' best candidates, in chain order, into the run
// result.
func (r *runner) finish(chains []*chain, start time.Time) (*optimization.RunResult, error) {
	cands := make([]optimization.Candidate, 0, len(chains))
	for _, c := range chains {
		if c != nil {
			cands = append(cands, c.best)
		}
	}
	best, err := Reduce(cands)
	if err != nil {
		return nil, optimization.WrapError(optimization.ErrInterrupted, "no chain produced a candidate").
			WithComponent("annealing").
			WithOperation(string(r.kind))
	}

	res := &optimization.RunResult{
		State:       best.State.Clone(),
		Energy:      best.Energy,
		Solver:      string(r.kind),
		Interrupted: r.interrupted.Load(),
		Duration:    time.Since(start),
		Stats: optimization.RunStats{
			Chains:      len(cands),
			Steps:       r.steps.Load(),
			Evaluations: r.evaluations.Load(),
			Skipped:     r.skipped.Load(),
			Accepted:    r.accepted.Load(),
			Migrations:  r.migrations.Load(),
		},
	}
	r.logger.Info("annealing run finished",
		zap.Stringer("state", res.State),
		zap.Float64("energy", res.Energy),
		zap.Bool("interrupted", res.Interrupted),
		zap.Uint64("steps", res.Stats.Steps),
		zap.Uint64("skipped", res.Stats.Skipped),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func interruptedBeforeStart(ctx context.Context, kind Kind) error {
	return optimization.WrapError(
		fmt.Errorf("%w: %w", optimization.ErrInterrupted, ctx.Err()),
		"cancelled before any chain started",
	).WithComponent("annealing").WithOperation(string(kind))
}
