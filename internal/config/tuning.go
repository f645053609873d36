package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
	"github.com/copyleftdev/tundr-anneal/internal/optimization/annealing"
	"github.com/copyleftdev/tundr-anneal/internal/tuning"
)

// Tuning is the tuning document: which solver to run, how to cool, and the
// problem to solve.
type Tuning struct {
	Solver          string `yaml:"solver" json:"solver"`
	CoolingSchedule string `yaml:"cooling_schedule" json:"cooling_schedule"`
	// MinTemp and MaxTemp are optional; a missing MaxTemp is calibrated.
	MinTemp  *float64 `yaml:"min_temp" json:"min_temp,omitempty"`
	MaxTemp  *float64 `yaml:"max_temp" json:"max_temp,omitempty"`
	MaxSteps uint64   `yaml:"max_steps" json:"max_steps"`
	Workers  int      `yaml:"workers" json:"workers"`

	PopulationSize    int     `yaml:"population_size" json:"population_size,omitempty"`
	MigrationInterval uint64  `yaml:"migration_interval" json:"migration_interval,omitempty"`
	MigrationFraction float64 `yaml:"migration_fraction" json:"migration_fraction,omitempty"`
	StallSteps        uint64  `yaml:"stall_steps" json:"stall_steps,omitempty"`

	EvalTimeout        time.Duration `yaml:"eval_timeout" json:"eval_timeout,omitempty"`
	Seed               int64         `yaml:"seed" json:"seed,omitempty"`
	EnergyType         string        `yaml:"energy_type" json:"energy_type"`
	CalibrationSamples int           `yaml:"calibration_samples" json:"calibration_samples,omitempty"`
	// ExploreUnvisited prefers neighbours that have not been measured yet.
	// Defaults to true.
	ExploreUnvisited *bool `yaml:"explore_unvisited" json:"explore_unvisited,omitempty"`

	Problem ProblemSpec `yaml:"problem" json:"problem"`
}

// ProblemSpec describes the tunables and how a configuration is measured.
type ProblemSpec struct {
	Type       string          `yaml:"type" json:"type"`
	Parameters []ParameterSpec `yaml:"parameters" json:"parameters"`
	Benchmark  BenchmarkSpec   `yaml:"benchmark" json:"benchmark"`
}

// ParameterSpec is one tunable. Either Values or Range must be set; a
// missing Initial means the first value.
type ParameterSpec struct {
	Name    string     `yaml:"name" json:"name"`
	Values  []int      `yaml:"values" json:"values,omitempty"`
	Range   *RangeSpec `yaml:"range" json:"range,omitempty"`
	Initial *int       `yaml:"initial" json:"initial,omitempty"`
}

// RangeSpec expands to Min, Min+Step, ... up to Max inclusive.
type RangeSpec struct {
	Min  int `yaml:"min" json:"min"`
	Max  int `yaml:"max" json:"max"`
	Step int `yaml:"step" json:"step"`
}

// BenchmarkSpec is the command measuring a configuration.
type BenchmarkSpec struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args,omitempty"`
	Dir     string   `yaml:"dir" json:"dir,omitempty"`
	// Reference is the raw metric that maps to energy 0.5.
	Reference float64 `yaml:"reference" json:"reference"`
}

// Defaults for omitted tuning keys.
const (
	DefaultMaxSteps   = 100
	DefaultEnergyType = tuning.Throughput
	maxRangeValues    = 1 << 16
)

// LoadTuning reads and validates a tuning document.
func LoadTuning(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file %s: %w", path, err)
	}
	t, err := ParseTuningYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tuning file %s: %w", path, err)
	}
	return t, nil
}

// ParseTuningYAML parses a tuning document from YAML bytes, fills in
// defaults and validates it. Unknown keys are rejected.
func ParseTuningYAML(data []byte) (*Tuning, error) {
	var t Tuning
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, invalid("failed to parse tuning yaml: %v", err)
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// ApplyDefaults fills omitted keys.
func (t *Tuning) ApplyDefaults() {
	if t.Solver == "" {
		t.Solver = string(annealing.Sequential)
	}
	if t.CoolingSchedule == "" {
		t.CoolingSchedule = string(annealing.Exponential)
	}
	if t.MaxSteps == 0 {
		t.MaxSteps = DefaultMaxSteps
	}
	if t.Workers == 0 {
		t.Workers = 1
	}
	if t.EnergyType == "" {
		t.EnergyType = string(DefaultEnergyType)
	}
	if t.CalibrationSamples == 0 {
		t.CalibrationSamples = annealing.DefaultCalibrationSamples
	}
	if t.Problem.Type == "" {
		t.Problem.Type = string(tuning.Benchmark)
	}
}

// Validate checks the document without touching the benchmark.
func (t *Tuning) Validate() error {
	kind, err := annealing.ParseKind(t.Solver)
	if err != nil {
		return invalid("%v", err)
	}
	if _, err := annealing.ParseCoolingSchedule(t.CoolingSchedule); err != nil {
		return invalid("%v", err)
	}
	if _, err := tuning.ParseEnergyType(t.EnergyType); err != nil {
		return invalid("%v", err)
	}
	problemType, err := tuning.ParseProblemType(t.Problem.Type)
	if err != nil {
		return invalid("%v", err)
	}
	if t.Workers < 1 {
		return invalid("workers must be at least 1, got %d", t.Workers)
	}
	if t.CalibrationSamples < 0 {
		return invalid("calibration_samples must not be negative, got %d", t.CalibrationSamples)
	}
	if t.EvalTimeout < 0 {
		return invalid("eval_timeout must not be negative, got %s", t.EvalTimeout)
	}
	if t.MinTemp != nil && !(*t.MinTemp > 0) {
		return invalid("min_temp must be positive, got %v", *t.MinTemp)
	}
	if t.MaxTemp != nil {
		minTemp := annealing.DefaultMinTemp
		if t.MinTemp != nil {
			minTemp = *t.MinTemp
		}
		if !(*t.MaxTemp > minTemp) {
			return invalid("max_temp %v must exceed min_temp %v", *t.MaxTemp, minTemp)
		}
	}
	if kind == annealing.PopulationParallel {
		if t.PopulationSize < 0 {
			return invalid("population_size must not be negative, got %d", t.PopulationSize)
		}
		if t.MigrationFraction < 0 || t.MigrationFraction > 0.5 {
			return invalid("migration_fraction must be in (0, 0.5], got %v", t.MigrationFraction)
		}
	}

	if _, err := t.Space(); err != nil {
		return err
	}
	if problemType == tuning.Benchmark {
		b := t.Problem.Benchmark
		if b.Command == "" {
			return invalid("problem.benchmark.command is required for problem type %q", t.Problem.Type)
		}
		if !(b.Reference > 0) {
			return invalid("problem.benchmark.reference must be positive, got %v", b.Reference)
		}
	}
	return nil
}

// Kind returns the solver strategy.
func (t *Tuning) Kind() annealing.Kind {
	k, _ := annealing.ParseKind(t.Solver)
	return k
}

// Space builds the parameter space.
func (t *Tuning) Space() (*tuning.Space, error) {
	params := make([]tuning.Parameter, 0, len(t.Problem.Parameters))
	for _, ps := range t.Problem.Parameters {
		values, err := ps.values()
		if err != nil {
			return nil, err
		}
		p := tuning.Parameter{Name: ps.Name, Values: values}
		if len(values) > 0 {
			p.Initial = values[0]
		}
		if ps.Initial != nil {
			p.Initial = *ps.Initial
		}
		params = append(params, p)
	}
	return tuning.NewSpace(params)
}

func (ps ParameterSpec) values() ([]int, error) {
	switch {
	case len(ps.Values) > 0 && ps.Range != nil:
		return nil, invalid("parameter %q sets both values and range", ps.Name)
	case ps.Range == nil:
		return ps.Values, nil
	}
	r := *ps.Range
	if r.Step == 0 {
		r.Step = 1
	}
	if r.Step < 0 || r.Max < r.Min {
		return nil, invalid("parameter %q has an empty range [%d, %d] step %d", ps.Name, r.Min, r.Max, r.Step)
	}
	// The span is taken unsigned so that ranges reaching the int limits
	// neither overflow nor slip past the size guard.
	n := uint64(r.Max-r.Min) / uint64(r.Step)
	if n >= maxRangeValues {
		return nil, invalid("parameter %q range has more than %d values", ps.Name, maxRangeValues)
	}
	values := make([]int, 0, n+1)
	v := r.Min
	for i := uint64(0); ; i++ {
		values = append(values, v)
		if i == n {
			break
		}
		v += r.Step
	}
	return values, nil
}

// AnnealingConfig returns the solver configuration for the given
// temperature bounds.
func (t *Tuning) AnnealingConfig(minTemp, maxTemp float64) annealing.Config {
	cooling, _ := annealing.ParseCoolingSchedule(t.CoolingSchedule)
	return annealing.Config{
		MinTemp:           minTemp,
		MaxTemp:           maxTemp,
		MaxSteps:          t.MaxSteps,
		Cooling:           cooling,
		EnergyType:        t.EnergyType,
		PopulationSize:    t.PopulationSize,
		MigrationInterval: t.MigrationInterval,
		MigrationFraction: t.MigrationFraction,
		StallSteps:        t.StallSteps,
		EvalTimeout:       t.EvalTimeout,
		Seed:              t.Seed,
	}
}

// CalibrationConfig returns the calibrator configuration.
func (t *Tuning) CalibrationConfig() annealing.CalibrationConfig {
	return annealing.CalibrationConfig{
		MinTemp:     t.MinTemp,
		MaxTemp:     t.MaxTemp,
		Samples:     t.CalibrationSamples,
		EvalTimeout: t.EvalTimeout,
		Seed:        t.Seed,
	}
}

// Unvisited reports whether neighbour generation prefers unmeasured states.
func (t *Tuning) Unvisited() bool {
	return t.ExploreUnvisited == nil || *t.ExploreUnvisited
}

func invalid(format string, args ...interface{}) error {
	return optimization.NewError(optimization.ErrInvalidConfig, format, args...).
		WithComponent("config")
}
