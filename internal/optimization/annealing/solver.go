// Package annealing implements simulated annealing over discrete
// configuration spaces with four concurrency strategies that share one
// step loop: a single sequential chain, barrier-synchronized parallel
// chains, independent parallel chains, and a migrating population.
package annealing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// Solver runs one annealing search. Cancelling ctx stops every chain at its
// next step boundary and the best candidate found so far is returned with
// RunResult.Interrupted set.
type Solver interface {
	Solve(ctx context.Context, problem optimization.Problem, workers int) (*optimization.RunResult, error)
	Kind() Kind
}

// Recorder receives run telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveEvaluation(solver string, d time.Duration, err error)
	IncAccepted(solver string)
	IncMigrations(solver string)
	SetTemperature(solver string, t float64)
	SetBestEnergy(solver string, e float64)
}

// Progress describes one completed step of one chain.
type Progress struct {
	Solver      Kind
	Chain       int
	Step        uint64
	MaxSteps    uint64
	Temperature float64
	Energy      float64
	BestEnergy  float64
}

// ProgressFunc is called after each step, possibly from several goroutines
// at once.
type ProgressFunc func(Progress)

type options struct {
	logger   *zap.Logger
	recorder Recorder
	progress ProgressFunc
}

// Option configures a Solver.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithProgress sets a callback invoked after every step.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// NewSolver returns the strategy named by kind.
func NewSolver(kind Kind, cfg Config, opts ...Option) (Solver, error) {
	o := options{
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.withDefaults()
	base := solverBase{cfg: cfg, opts: o}

	switch kind {
	case Sequential:
		return &sequential{base}, nil
	case SynchronizedParallel:
		return &synchronized{base}, nil
	case IndependentParallel:
		return &independent{base}, nil
	case PopulationParallel:
		return &population{base}, nil
	default:
		return nil, optimization.NewError(optimization.ErrInvalidConfig, "unknown solver %q", string(kind)).
			WithComponent("annealing")
	}
}

type solverBase struct {
	cfg  Config
	opts options
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvaluation(string, time.Duration, error) {}
func (nopRecorder) IncAccepted(string)                            {}
func (nopRecorder) IncMigrations(string)                          {}
func (nopRecorder) SetTemperature(string, float64)                {}
func (nopRecorder) SetBestEnergy(string, float64)                 {}
