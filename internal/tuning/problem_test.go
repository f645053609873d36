package tuning

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
	"github.com/copyleftdev/tundr-anneal/internal/optimization/annealing"
)

type countingEvaluator struct {
	calls atomic.Int64
	fn    func(context.Context, optimization.State) (float64, error)
}

func (c *countingEvaluator) Evaluate(ctx context.Context, st optimization.State) (float64, error) {
	c.calls.Add(1)
	return c.fn(ctx, st)
}

func TestProblemEnergyIsCached(t *testing.T) {
	bad := optimization.State{"threads": 128, "batch": 30}
	eval := &countingEvaluator{fn: func(_ context.Context, st optimization.State) (float64, error) {
		if st.Equal(bad) {
			return 0, optimization.Unevaluable(errors.New("oom"))
		}
		return float64(st["threads"]) / 1000, nil
	}}
	p := NewProblem(testSpace(t), eval)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e, err := p.Energy(ctx, optimization.State{"threads": 8, "batch": 20})
		require.NoError(t, err)
		assert.Equal(t, 0.008, e)

		_, err = p.Energy(ctx, bad)
		assert.ErrorIs(t, err, optimization.ErrUnevaluable)
	}
	assert.Equal(t, int64(2), eval.calls.Load())
	assert.Equal(t, 2, p.Cache().Len())
	assert.Equal(t, uint64(4), p.Cache().Hits())
}

func TestProblemEnergyNotCachedWhenCancelled(t *testing.T) {
	eval := &countingEvaluator{fn: func(ctx context.Context, _ optimization.State) (float64, error) {
		return 0, ctx.Err()
	}}
	p := NewProblem(testSpace(t), eval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Energy(ctx, p.InitialState())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.Cache().Len())
}

func flightWaiters(p *Problem, st optimization.State) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.flights[st.String()]; ok {
		return f.waiters
	}
	return 0
}

type energyResult struct {
	energy float64
	err    error
}

func TestProblemEnergySharedEvaluationOutlivesCaller(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	eval := &countingEvaluator{fn: func(ctx context.Context, _ optimization.State) (float64, error) {
		started <- struct{}{}
		select {
		case <-release:
			return 0.3, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}}
	p := NewProblem(testSpace(t), eval)
	st := p.InitialState()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan energyResult, 1)
	go func() {
		e, err := p.Energy(ctx, st)
		first <- energyResult{e, err}
	}()
	<-started

	second := make(chan energyResult, 1)
	go func() {
		e, err := p.Energy(context.Background(), st)
		second <- energyResult{e, err}
	}()
	require.Eventually(t, func() bool { return flightWaiters(p, st) == 2 }, 5*time.Second, time.Millisecond)

	cancel()
	r := <-first
	assert.ErrorIs(t, r.err, context.Canceled)

	close(release)
	r = <-second
	require.NoError(t, r.err)
	assert.Equal(t, 0.3, r.energy)
	assert.Equal(t, int64(1), eval.calls.Load())
	assert.Equal(t, 1, p.Cache().Len())
	assert.Zero(t, flightWaiters(p, st))
}

func TestProblemEnergyAbandonedEvaluationIsCancelled(t *testing.T) {
	stopped := make(chan error, 1)
	eval := &countingEvaluator{fn: func(ctx context.Context, _ optimization.State) (float64, error) {
		<-ctx.Done()
		stopped <- ctx.Err()
		return 0, ctx.Err()
	}}
	p := NewProblem(testSpace(t), eval)
	st := p.InitialState()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Energy(ctx, st)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("evaluation kept running after its only caller returned")
	}
	assert.Zero(t, p.Cache().Len())
	assert.Zero(t, flightWaiters(p, st))
}

func TestProblemEnergyRejectsForeignStates(t *testing.T) {
	eval := &countingEvaluator{fn: func(context.Context, optimization.State) (float64, error) { return 0.5, nil }}
	p := NewProblem(testSpace(t), eval)

	_, err := p.Energy(context.Background(), optimization.State{"threads": 3, "batch": 10})
	assert.ErrorIs(t, err, optimization.ErrUnevaluable)
	assert.Zero(t, eval.calls.Load())
}

func TestProblemEnergyRejectsNegative(t *testing.T) {
	eval := &countingEvaluator{fn: func(context.Context, optimization.State) (float64, error) { return -1, nil }}
	p := NewProblem(testSpace(t), eval)

	_, err := p.Energy(context.Background(), p.InitialState())
	assert.ErrorIs(t, err, optimization.ErrUnevaluable)
}

func TestProblemNewStateIsNeighbour(t *testing.T) {
	s := testSpace(t)
	p := NewProblem(s, EvaluatorFunc(func(context.Context, optimization.State) (float64, error) { return 0, nil }),
		WithUnvisitedNeighbors(false))
	rng := rand.New(rand.NewSource(5))
	st := p.InitialState()

	for step := uint64(0); step < 100; step++ {
		next := p.NewState(st, 100, step, rng)
		require.True(t, s.Contains(next))
		require.True(t, next.SameKeys(st))

		changed := 0
		for _, k := range st.Keys() {
			if next[k] != st[k] {
				changed++
				from, _ := s.Position(k, st[k])
				to, _ := s.Position(k, next[k])
				assert.LessOrEqual(t, abs(from-to), p.radius(100, step))
			}
		}
		assert.Equal(t, 1, changed)
		st = next
	}
}

func TestProblemNewStateReproducible(t *testing.T) {
	p := NewProblem(testSpace(t), EvaluatorFunc(func(context.Context, optimization.State) (float64, error) { return 0, nil }),
		WithUnvisitedNeighbors(false))
	walk := func() []optimization.State {
		rng := rand.New(rand.NewSource(42))
		st := p.InitialState()
		var out []optimization.State
		for i := uint64(0); i < 20; i++ {
			st = p.NewState(st, 20, i, rng)
			out = append(out, st)
		}
		return out
	}
	assert.Equal(t, walk(), walk())
}

func TestProblemNewStateFallsBackToRandom(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := testSpace(t)
	p := NewProblem(s, EvaluatorFunc(func(context.Context, optimization.State) (float64, error) { return 0.1, nil }),
		WithLogger(zap.New(core)))

	st := p.InitialState()
	for _, n := range s.Neighbors(st, s.MaxRadius()) {
		p.Cache().Put(n, 0.1, nil)
	}

	next := p.NewState(st, 10, 0, rand.New(rand.NewSource(1)))
	assert.True(t, s.Contains(next))
	assert.Equal(t, 1, logs.FilterMessage("neighbourhood exhausted, drawing a random state").Len())

	// With one neighbour left it is the only choice.
	last := optimization.State{"threads": 8, "batch": 10}
	p2 := NewProblem(s, EvaluatorFunc(func(context.Context, optimization.State) (float64, error) { return 0.1, nil }))
	for _, n := range s.Neighbors(st, s.MaxRadius()) {
		if !n.Equal(last) {
			p2.Cache().Put(n, 0.1, nil)
		}
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, last, p2.NewState(st, 10, 0, rand.New(rand.NewSource(int64(i)))))
	}
}

func TestProblemRadiusShrinks(t *testing.T) {
	p := NewProblem(testSpace(t), nil)
	assert.Equal(t, 2, p.radius(100, 0))
	assert.Equal(t, 2, p.radius(100, 49))
	assert.Equal(t, 1, p.radius(100, 50))
	assert.Equal(t, 1, p.radius(100, 99))
	assert.Equal(t, 1, p.radius(100, 100))
	assert.Equal(t, 1, p.radius(0, 0))
}

func TestSolverOnSyntheticProblem(t *testing.T) {
	values := []int{-5, -4, -3, -2, -1, 0, 1, 2, 3, 4, 5}
	space, err := NewSpace([]Parameter{
		{Name: "x", Values: values, Initial: 5},
		{Name: "y", Values: values, Initial: -5},
	})
	require.NoError(t, err)

	for _, kind := range []ProblemType{Rastrigin, Griewank} {
		t.Run(string(kind), func(t *testing.T) {
			eval, err := NewSynthetic(space, kind)
			require.NoError(t, err)
			p := NewProblem(space, eval)

			s, err := annealing.NewSolver(annealing.Sequential, annealing.Config{
				MinTemp:  0.001,
				MaxTemp:  0.2,
				MaxSteps: 500,
				Cooling:  annealing.Exponential,
				Seed:     9,
			})
			require.NoError(t, err)

			res, err := s.Solve(context.Background(), p, 1)
			require.NoError(t, err)
			assert.InDelta(t, 0, res.Energy, 1e-9)
			assert.Equal(t, optimization.State{"x": 0, "y": 0}, res.State)
		})
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
