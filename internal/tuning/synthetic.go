package tuning

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// ProblemType selects the energy source of a tuning problem.
type ProblemType string

const (
	// Benchmark problems measure a real workload with a command.
	Benchmark ProblemType = "default"
	// Rastrigin problems use the Rastrigin function over the space.
	Rastrigin ProblemType = "rastrigin"
	// Griewank problems use the Griewank function over the space.
	Griewank ProblemType = "griewank"
)

// ParseProblemType parses a problem type, accepting the short forms
// "rastr" and "griew". An empty string is the benchmark type.
func ParseProblemType(s string) (ProblemType, error) {
	switch s {
	case "", "default", "benchmark":
		return Benchmark, nil
	case "rastr", "rastrigin":
		return Rastrigin, nil
	case "griew", "griewank":
		return Griewank, nil
	default:
		return "", fmt.Errorf("problem type %q: not a valid value", s)
	}
}

// Synthetic evaluates a closed-form test function over the space. Each
// parameter's value positions are spread evenly over the function's usual
// domain, so the global minimum sits at the middle position of every
// parameter with an odd number of values. Energies are scaled into [0,1].
type Synthetic struct {
	space  *Space
	kind   ProblemType
	bound  float64
	maxRaw float64
}

// NewSynthetic returns the evaluator for kind, which must be Rastrigin or
// Griewank.
func NewSynthetic(space *Space, kind ProblemType) (*Synthetic, error) {
	d := float64(space.Dimensions())
	s := &Synthetic{space: space, kind: kind}
	switch kind {
	case Rastrigin:
		s.bound = 5.12
		// Per-dimension maximum of x^2 - 10cos(2πx) + 10 on [-5.12, 5.12].
		s.maxRaw = 40.35329019 * d
	case Griewank:
		s.bound = 600
		s.maxRaw = d*s.bound*s.bound/4000 + 2
	default:
		return nil, invalid("problem type %q has no synthetic objective", string(kind))
	}
	return s, nil
}

// Evaluate implements Evaluator.
func (s *Synthetic) Evaluate(ctx context.Context, st optimization.State) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	x, err := s.coordinates(st)
	if err != nil {
		return 0, optimization.Unevaluable(err)
	}
	var raw float64
	switch s.kind {
	case Rastrigin:
		raw = rastrigin(x)
	case Griewank:
		raw = griewank(x)
	}
	return math.Min(math.Max(raw/s.maxRaw, 0), 1), nil
}

func (s *Synthetic) coordinates(st optimization.State) ([]float64, error) {
	params := s.space.Params()
	x := make([]float64, len(params))
	for i, p := range params {
		pos, ok := s.space.Position(p.Name, st[p.Name])
		if !ok {
			return nil, fmt.Errorf("value %d is not admissible for %q", st[p.Name], p.Name)
		}
		if len(p.Values) > 1 {
			x[i] = -s.bound + 2*s.bound*float64(pos)/float64(len(p.Values)-1)
		}
	}
	return x, nil
}

func rastrigin(x []float64) float64 {
	terms := make([]float64, len(x))
	for i, v := range x {
		terms[i] = v*v - 10*math.Cos(2*math.Pi*v) + 10
	}
	return floats.Sum(terms)
}

func griewank(x []float64) float64 {
	squares := make([]float64, len(x))
	cosines := make([]float64, len(x))
	for i, v := range x {
		squares[i] = v * v
		cosines[i] = math.Cos(v / math.Sqrt(float64(i+1)))
	}
	return 1 + floats.Sum(squares)/4000 - floats.Prod(cosines)
}
