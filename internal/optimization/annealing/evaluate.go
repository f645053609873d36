package annealing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// evaluate calls p.Energy with a bounded wait. The call runs in its own
// goroutine so a Problem that ignores ctx cannot hold a chain past its
// timeout or past an interrupt; the abandoned call finishes in the
// background and its result is dropped.
//
// The returned error wraps ErrInterrupted when parent was cancelled,
// ErrEvaluationTimeout when the timeout fired and ErrUnevaluable otherwise.
func evaluate(parent context.Context, p optimization.Problem, s optimization.State, timeout time.Duration) (float64, error) {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	type outcome struct {
		energy float64
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("energy panicked: %v\n%s", rec, debug.Stack())}
			}
		}()
		e, err := p.Energy(ctx, s)
		done <- outcome{energy: e, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	switch {
	case out.err == nil && math.IsNaN(out.energy):
		return 0, optimization.Unevaluable(errors.New("energy is NaN"))
	case out.err == nil:
		return out.energy, nil
	case parent.Err() != nil:
		return 0, fmt.Errorf("%w: %w", optimization.ErrInterrupted, parent.Err())
	case errors.Is(out.err, context.DeadlineExceeded):
		return 0, optimization.ErrEvaluationTimeout
	case errors.Is(out.err, optimization.ErrUnevaluable):
		return 0, out.err
	default:
		return 0, optimization.Unevaluable(out.err)
	}
}
