package tuning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// EnergyType selects how a raw benchmark metric becomes an energy.
type EnergyType string

const (
	// Throughput metrics are better when higher.
	Throughput EnergyType = "throughput"
	// Latency metrics are better when lower.
	Latency EnergyType = "latency"
)

// ParseEnergyType parses an energy type name.
func ParseEnergyType(s string) (EnergyType, error) {
	switch EnergyType(s) {
	case Throughput, Latency:
		return EnergyType(s), nil
	default:
		return "", fmt.Errorf("energy type %q: not a valid value", s)
	}
}

// Normalize maps a non-negative raw metric onto [0,1] so that lower is
// always better. reference is the metric value that maps to 0.5.
//
//	throughput: reference / (reference + v)
//	latency:    v / (v + reference)
func (t EnergyType) Normalize(v, reference float64) (float64, error) {
	if !(reference > 0) {
		return 0, fmt.Errorf("reference must be positive, got %v", reference)
	}
	if v < 0 {
		return 0, fmt.Errorf("metric must be non-negative, got %v", v)
	}
	switch t {
	case Throughput:
		return reference / (reference + v), nil
	case Latency:
		return v / (v + reference), nil
	default:
		return 0, fmt.Errorf("energy type %q: not a valid value", string(t))
	}
}

// EnvPrefix prefixes the environment variable that carries each parameter
// to a benchmark command.
const EnvPrefix = "TUNE_"

// CommandEvaluator runs a benchmark command once per state. The state is
// passed as TUNE_<NAME>=<value> environment variables and the command must
// print its metric as the last numeric line of stdout.
type CommandEvaluator struct {
	Command    string
	Args       []string
	Dir        string
	EnergyType EnergyType
	Reference  float64
	// WaitDelay bounds how long output is drained after the command is
	// killed on cancellation.
	WaitDelay time.Duration

	Logger *zap.Logger
}

// Evaluate implements Evaluator.
func (c *CommandEvaluator) Evaluate(ctx context.Context, st optimization.State) (float64, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), StateEnv(st)...)
	cmd.WaitDelay = c.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = time.Second
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, optimization.Unevaluable(fmt.Errorf("benchmark %s: %w: %s",
			c.Command, err, strings.TrimSpace(lastLine(stderr.String()))))
	}

	raw, err := ParseMetric(stdout.String())
	if err != nil {
		return 0, optimization.Unevaluable(fmt.Errorf("benchmark %s: %w", c.Command, err))
	}
	energy, err := c.EnergyType.Normalize(raw, c.Reference)
	if err != nil {
		return 0, optimization.Unevaluable(err)
	}
	logger.Debug("benchmark finished",
		zap.Stringer("state", st),
		zap.Float64("metric", raw),
		zap.Float64("energy", energy),
		zap.Duration("elapsed", elapsed),
	)
	return energy, nil
}

// StateEnv renders st as TUNE_<NAME>=<value> pairs in key order. Names are
// upper-cased and characters outside [A-Z0-9_] become underscores.
func StateEnv(st optimization.State) []string {
	env := make([]string, 0, len(st))
	for _, k := range st.Keys() {
		env = append(env, fmt.Sprintf("%s%s=%d", EnvPrefix, envName(k), st[k]))
	}
	return env
}

func envName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

var errNoMetric = errors.New("no numeric line in benchmark output")

// ParseMetric returns the value of the last line of out that parses as a
// finite float. Surrounding blanks are ignored.
func ParseMetric(out string) (float64, error) {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if v, err := strconv.ParseFloat(line, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, nil
		}
	}
	return 0, errNoMetric
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
