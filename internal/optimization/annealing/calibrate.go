package annealing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

const (
	// DefaultCalibrationSamples is the number of neighbours sampled.
	DefaultCalibrationSamples = 10
	// DefaultAcceptanceTarget is the probability with which a typical
	// worsening move is accepted at the calibrated maximum temperature.
	DefaultAcceptanceTarget = 0.98
)

// CalibrationConfig controls temperature calibration. A nil MinTemp
// defaults to DefaultMinTemp; a nil MaxTemp is estimated.
type CalibrationConfig struct {
	MinTemp *float64
	MaxTemp *float64

	Samples          int
	AcceptanceTarget float64
	EvalTimeout      time.Duration
	Seed             int64
}

// Bounds is the outcome of calibration.
type Bounds struct {
	MinTemp float64
	MaxTemp float64
	// Estimated is set when MaxTemp was computed rather than supplied.
	Estimated bool
	// Samples and Skipped count the neighbour evaluations used and lost.
	Samples int
	Skipped int
}

// Calibrate returns the temperature bounds for a run. When the maximum is
// not supplied it samples neighbours of the initial state and picks the
// temperature at which the mean absolute energy delta is accepted with
// probability AcceptanceTarget:
//
//	max_temp = mean|E(n) - E(initial)| / -ln(AcceptanceTarget)
//
// The initial state must be evaluable. Failed neighbour samples are
// skipped; if every sample fails the calibration fails.
func Calibrate(ctx context.Context, problem optimization.Problem, cfg CalibrationConfig, logger *zap.Logger) (Bounds, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fail := func(kind error, format string, args ...interface{}) error {
		return optimization.NewError(kind, format, args...).
			WithComponent("annealing").
			WithOperation("calibration")
	}

	b := Bounds{MinTemp: DefaultMinTemp}
	if cfg.MinTemp != nil {
		b.MinTemp = *cfg.MinTemp
	}
	if cfg.MaxTemp != nil {
		b.MaxTemp = *cfg.MaxTemp
		return b, nil
	}

	samples := cfg.Samples
	if samples <= 0 {
		samples = DefaultCalibrationSamples
	}
	target := cfg.AcceptanceTarget
	if target == 0 {
		target = DefaultAcceptanceTarget
	}
	if target <= 0 || target >= 1 {
		return b, fail(optimization.ErrInvalidConfig, "acceptance target must be in (0,1), got %v", target)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	logger.Info("temperature not provided, starting calibration",
		zap.Int("samples", samples),
		zap.Float64("acceptance_target", target),
	)

	if err := ctx.Err(); err != nil {
		return b, optimization.WrapError(fmt.Errorf("%w: %w", optimization.ErrInterrupted, err), "calibration interrupted").
			WithOperation("calibration")
	}
	initial := problem.InitialState()
	base, err := evaluate(ctx, problem, initial, cfg.EvalTimeout)
	if err != nil {
		if errors.Is(err, optimization.ErrInterrupted) {
			return b, optimization.WrapError(err, "calibration interrupted").WithOperation("calibration")
		}
		return b, optimization.WrapErrorf(fmt.Errorf("%w: %w", optimization.ErrCalibration, err),
			"initial configuration %s cannot be evaluated", initial).
			WithComponent("annealing").
			WithOperation("calibration")
	}
	if math.IsInf(base, 0) {
		return b, fail(optimization.ErrCalibration, "initial configuration %s has infinite energy", initial)
	}

	deltas := make([]float64, 0, samples)
	for i := 0; i < samples; i++ {
		if err := ctx.Err(); err != nil {
			return b, optimization.WrapError(fmt.Errorf("%w: %w", optimization.ErrInterrupted, err), "calibration interrupted").
				WithOperation("calibration")
		}
		next := problem.NewState(initial, uint64(samples), uint64(i), rng)
		e, err := evaluate(ctx, problem, next, cfg.EvalTimeout)
		if err != nil {
			if errors.Is(err, optimization.ErrInterrupted) {
				return b, optimization.WrapError(err, "calibration interrupted").WithOperation("calibration")
			}
			b.Skipped++
			logger.Warn("calibration sample cannot be evaluated, skipping",
				zap.Int("sample", i),
				zap.Stringer("state", next),
				zap.Error(err),
			)
			continue
		}
		if math.IsInf(e, 0) {
			b.Skipped++
			logger.Warn("calibration sample has infinite energy, skipping",
				zap.Int("sample", i),
				zap.Stringer("state", next),
			)
			continue
		}
		deltas = append(deltas, math.Abs(e-base))
	}
	b.Samples = len(deltas)

	if len(deltas) == 0 {
		return b, fail(optimization.ErrCalibration, "all %d neighbour samples failed", samples)
	}

	b.MaxTemp = stat.Mean(deltas, nil) / -math.Log(target)
	b.Estimated = true
	if !(b.MaxTemp > b.MinTemp) {
		return b, fail(optimization.ErrCalibration,
			"estimated max temperature %g does not exceed min temperature %g", b.MaxTemp, b.MinTemp)
	}

	logger.Info("temperature calibrated",
		zap.Float64("min_temp", b.MinTemp),
		zap.Float64("max_temp", b.MaxTemp),
		zap.Int("samples", b.Samples),
		zap.Int("skipped", b.Skipped),
	)
	return b, nil
}
