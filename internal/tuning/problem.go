package tuning

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// Evaluator measures one configuration. It returns an energy in [0,1],
// lower is better, or an error when the configuration cannot be measured.
type Evaluator interface {
	Evaluate(ctx context.Context, st optimization.State) (float64, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, st optimization.State) (float64, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, st optimization.State) (float64, error) {
	return f(ctx, st)
}

// Problem implements optimization.Problem over a Space. It is safe for
// concurrent use by every chain of a run.
type Problem struct {
	space     *Space
	eval      Evaluator
	cache     *Cache
	group     singleflight.Group
	unvisited bool
	logger    *zap.Logger

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context of one shared evaluation. It is cancelled once
// every caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// ProblemOption configures a Problem.
type ProblemOption func(*Problem)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ProblemOption {
	return func(p *Problem) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCache shares a cache between problems, e.g. calibration and search.
func WithCache(c *Cache) ProblemOption {
	return func(p *Problem) {
		if c != nil {
			p.cache = c
		}
	}
}

// WithUnvisitedNeighbors makes NewState prefer neighbours whose energy is
// not cached yet, falling back to a random state when all of them are.
// Enabled by default. Turning it off makes NewState depend only on the
// chain's RNG, which keeps parallel runs reproducible.
func WithUnvisitedNeighbors(enabled bool) ProblemOption {
	return func(p *Problem) {
		p.unvisited = enabled
	}
}

// NewProblem binds an evaluator to a space.
func NewProblem(space *Space, eval Evaluator, opts ...ProblemOption) *Problem {
	p := &Problem{
		space:     space,
		eval:      eval,
		cache:     NewCache(),
		unvisited: true,
		logger:    zap.NewNop(),
		flights:   make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Space returns the problem's space.
func (p *Problem) Space() *Space {
	return p.space
}

// Cache returns the energy cache.
func (p *Problem) Cache() *Cache {
	return p.cache
}

// InitialState implements optimization.Problem.
func (p *Problem) InitialState() optimization.State {
	return p.space.Initial()
}

// Energy implements optimization.Problem. Concurrent requests for the same
// state share one evaluation, which runs detached from any single caller's
// deadline and is cancelled only when all of them have returned. Each
// caller still returns as soon as its own ctx is done. Outcomes are cached
// unless the shared evaluation was cancelled.
func (p *Problem) Energy(ctx context.Context, st optimization.State) (float64, error) {
	if !p.space.Contains(st) {
		return 0, optimization.Unevaluable(fmt.Errorf("state %s is outside the parameter space", st))
	}
	if e, ok := p.cache.Get(st); ok {
		return e.Energy, e.Err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key := st.String()
	f := p.join(ctx, key)
	defer p.leave(key, f)

	ch := p.group.DoChan(key, func() (interface{}, error) {
		e, err := p.eval.Evaluate(f.ctx, st)
		if err == nil && (math.IsNaN(e) || e < 0) {
			err = optimization.Unevaluable(fmt.Errorf("energy %v out of range", e))
		}
		if f.ctx.Err() == nil {
			p.cache.Put(st, e, err)
		}
		return e, err
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(float64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *Problem) join(ctx context.Context, key string) *flight {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		p.flights[key] = f
	}
	f.waiters++
	return f
}

func (p *Problem) leave(key string, f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	delete(p.flights, key)
	// A cancelled evaluation still in flight must not be joined again.
	p.group.Forget(key)
}

// NewState implements optimization.Problem. The neighbourhood radius shrinks
// linearly from Space.MaxRadius to one as currentStep approaches maxSteps.
func (p *Problem) NewState(st optimization.State, maxSteps, currentStep uint64, rng *rand.Rand) optimization.State {
	neighbors := p.space.Neighbors(st, p.radius(maxSteps, currentStep))
	if p.unvisited {
		fresh := neighbors[:0]
		for _, n := range neighbors {
			if !p.cache.Contains(n) {
				fresh = append(fresh, n)
			}
		}
		neighbors = fresh
	}
	if len(neighbors) == 0 {
		next := p.space.Random(rng)
		p.logger.Debug("neighbourhood exhausted, drawing a random state",
			zap.Stringer("from", st),
			zap.Stringer("to", next),
			zap.Uint64("step", currentStep),
		)
		return next
	}
	return neighbors[rng.Intn(len(neighbors))]
}

func (p *Problem) radius(maxSteps, currentStep uint64) int {
	widest := p.space.MaxRadius()
	if maxSteps == 0 || currentStep >= maxSteps {
		return 1
	}
	remaining := 1 - float64(currentStep)/float64(maxSteps)
	r := int(math.Ceil(float64(widest) * remaining))
	if r < 1 {
		r = 1
	}
	return r
}
