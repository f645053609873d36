// Package tuner runs a tuning document end to end: it builds the problem,
// calibrates the temperature, runs the selected solver and reports the best
// configuration.
package tuner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/tundr-anneal/internal/config"
	"github.com/copyleftdev/tundr-anneal/internal/optimization"
	"github.com/copyleftdev/tundr-anneal/internal/optimization/annealing"
	"github.com/copyleftdev/tundr-anneal/internal/tuning"
)

// Run stages, reported as the Op of a failed run's error.
const (
	StageValidation  = "validation"
	StageCalibration = "calibration"
	StageSearch      = "search"
)

// Run statuses reported to the Recorder.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// Recorder receives solver telemetry and run outcomes.
type Recorder interface {
	annealing.Recorder
	RunStarted()
	RunFinished(solver, status string, d time.Duration)
}

// Tuner executes tuning documents. A Tuner holds no per-run state and may
// run several documents concurrently.
type Tuner struct {
	logger     *zap.Logger
	recorder   Recorder
	progress   annealing.ProgressFunc
	maxWorkers int
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tuner) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(t *Tuner) {
		t.recorder = r
	}
}

// WithProgress sets a per-step progress callback.
func WithProgress(fn annealing.ProgressFunc) Option {
	return func(t *Tuner) {
		t.progress = fn
	}
}

// WithMaxWorkers caps the workers a document may request. Zero means no
// cap.
func WithMaxWorkers(n int) Option {
	return func(t *Tuner) {
		t.maxWorkers = n
	}
}

// New returns a Tuner.
func New(opts ...Option) *Tuner {
	t := &Tuner{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Outcome is the result of a successful run.
type Outcome struct {
	Bounds  annealing.Bounds
	Workers int
	Result  *optimization.RunResult
	Report  tuning.Report
}

// BuildProblem constructs the problem a document describes.
func (t *Tuner) BuildProblem(tc *config.Tuning) (*tuning.Problem, error) {
	space, err := tc.Space()
	if err != nil {
		return nil, err
	}
	problemType, err := tuning.ParseProblemType(tc.Problem.Type)
	if err != nil {
		return nil, optimization.WrapError(optimization.ErrInvalidConfig, err.Error())
	}

	var eval tuning.Evaluator
	switch problemType {
	case tuning.Benchmark:
		energyType, err := tuning.ParseEnergyType(tc.EnergyType)
		if err != nil {
			return nil, optimization.WrapError(optimization.ErrInvalidConfig, err.Error())
		}
		eval = &tuning.CommandEvaluator{
			Command:    tc.Problem.Benchmark.Command,
			Args:       tc.Problem.Benchmark.Args,
			Dir:        tc.Problem.Benchmark.Dir,
			EnergyType: energyType,
			Reference:  tc.Problem.Benchmark.Reference,
			Logger:     t.logger.Named("benchmark"),
		}
	default:
		eval, err = tuning.NewSynthetic(space, problemType)
		if err != nil {
			return nil, err
		}
	}

	return tuning.NewProblem(space, eval,
		tuning.WithLogger(t.logger.Named("tuning")),
		tuning.WithUnvisitedNeighbors(tc.Unvisited()),
	), nil
}

// Calibrate builds the problem and returns its temperature bounds.
func (t *Tuner) Calibrate(ctx context.Context, tc *config.Tuning) (annealing.Bounds, error) {
	if err := tc.Validate(); err != nil {
		return annealing.Bounds{}, stageError(StageValidation, err)
	}
	problem, err := t.BuildProblem(tc)
	if err != nil {
		return annealing.Bounds{}, stageError(StageValidation, err)
	}
	b, err := annealing.Calibrate(ctx, problem, tc.CalibrationConfig(), t.logger.Named("calibration"))
	if err != nil {
		return b, stageError(StageCalibration, err)
	}
	return b, nil
}

// Run executes the document. Cancelling ctx during the search returns the
// best configuration found so far with Result.Interrupted set.
func (t *Tuner) Run(ctx context.Context, tc *config.Tuning) (*Outcome, error) {
	if err := tc.Validate(); err != nil {
		return nil, stageError(StageValidation, err)
	}
	problem, err := t.BuildProblem(tc)
	if err != nil {
		return nil, stageError(StageValidation, err)
	}

	bounds, err := annealing.Calibrate(ctx, problem, tc.CalibrationConfig(), t.logger.Named("calibration"))
	if err != nil {
		return nil, stageError(StageCalibration, err)
	}

	kind := tc.Kind()
	workers := t.workers(kind, tc.Workers)
	opts := []annealing.Option{annealing.WithLogger(t.logger.Named("annealing"))}
	if t.recorder != nil {
		opts = append(opts, annealing.WithRecorder(t.recorder))
	}
	if t.progress != nil {
		opts = append(opts, annealing.WithProgress(t.progress))
	}

	solver, err := annealing.NewSolver(kind, tc.AnnealingConfig(bounds.MinTemp, bounds.MaxTemp), opts...)
	if err != nil {
		return nil, stageError(StageSearch, err)
	}

	start := time.Now()
	if t.recorder != nil {
		t.recorder.RunStarted()
	}
	res, err := solver.Solve(ctx, problem, workers)
	status := StatusCompleted
	switch {
	case err != nil && errors.Is(err, optimization.ErrInterrupted):
		status = StatusInterrupted
	case err != nil:
		status = StatusFailed
	case res.Interrupted:
		status = StatusInterrupted
	}
	if t.recorder != nil {
		t.recorder.RunFinished(string(kind), status, time.Since(start))
	}
	if err != nil {
		return nil, stageError(StageSearch, err)
	}

	t.logger.Info("tuning finished",
		zap.String("solver", string(kind)),
		zap.String("status", status),
		zap.Stringer("best", res.State),
		zap.Float64("energy", res.Energy),
		zap.Int("cached_states", problem.Cache().Len()),
	)
	return &Outcome{
		Bounds:  bounds,
		Workers: workers,
		Result:  res,
		Report:  tuning.NewReport(res),
	}, nil
}

func (t *Tuner) workers(kind annealing.Kind, requested int) int {
	if !kind.Parallel() {
		return 1
	}
	if t.maxWorkers > 0 && requested > t.maxWorkers {
		t.logger.Warn("requested workers exceed the configured limit, clamping",
			zap.Int("requested", requested),
			zap.Int("limit", t.maxWorkers),
		)
		return t.maxWorkers
	}
	return requested
}

// Stage returns the stage a Run or Calibrate error came from, or "" if err
// was not produced by them.
func Stage(err error) string {
	if e, ok := optimization.IsOptimizationError(err); ok && e.Component == "tuner" {
		return e.Op
	}
	return ""
}

func stageError(stage string, err error) error {
	return optimization.WrapError(err, "run failed").
		WithComponent("tuner").
		WithOperation(stage)
}
