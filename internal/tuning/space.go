// Package tuning turns a set of discrete tunables and a benchmark into an
// annealing problem.
package tuning

import (
	"math"
	"math/rand"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// Parameter is one tunable with its admissible values, in neighbourhood
// order.
type Parameter struct {
	Name    string `json:"name" yaml:"name"`
	Values  []int  `json:"values" yaml:"values"`
	Initial int    `json:"initial" yaml:"initial"`
}

// Space is the cartesian product of the parameters' values.
type Space struct {
	params []Parameter
	// index maps parameter name to value to position in Values.
	index map[string]map[int]int
}

// NewSpace validates params and builds the space.
func NewSpace(params []Parameter) (*Space, error) {
	if len(params) == 0 {
		return nil, invalid("at least one parameter is required")
	}
	s := &Space{
		params: make([]Parameter, len(params)),
		index:  make(map[string]map[int]int, len(params)),
	}
	for i, p := range params {
		if p.Name == "" {
			return nil, invalid("parameter %d has no name", i)
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, invalid("parameter %q declared twice", p.Name)
		}
		if len(p.Values) == 0 {
			return nil, invalid("parameter %q has no values", p.Name)
		}
		idx := make(map[int]int, len(p.Values))
		for j, v := range p.Values {
			if _, dup := idx[v]; dup {
				return nil, invalid("parameter %q lists value %d twice", p.Name, v)
			}
			idx[v] = j
		}
		if _, ok := idx[p.Initial]; !ok {
			return nil, invalid("initial value %d of parameter %q is not one of its values", p.Initial, p.Name)
		}
		s.index[p.Name] = idx
		s.params[i] = Parameter{
			Name:    p.Name,
			Values:  append([]int(nil), p.Values...),
			Initial: p.Initial,
		}
	}
	return s, nil
}

// Params returns the parameters in declaration order.
func (s *Space) Params() []Parameter {
	return s.params
}

// Dimensions returns the number of parameters.
func (s *Space) Dimensions() int {
	return len(s.params)
}

// Size returns the number of distinct states, saturating at math.MaxInt64.
func (s *Space) Size() int64 {
	n := int64(1)
	for _, p := range s.params {
		if n > math.MaxInt64/int64(len(p.Values)) {
			return math.MaxInt64
		}
		n *= int64(len(p.Values))
	}
	return n
}

// Initial returns the state made of every parameter's initial value.
func (s *Space) Initial() optimization.State {
	st := make(optimization.State, len(s.params))
	for _, p := range s.params {
		st[p.Name] = p.Initial
	}
	return st
}

// Random draws a uniformly random state.
func (s *Space) Random(rng *rand.Rand) optimization.State {
	st := make(optimization.State, len(s.params))
	for _, p := range s.params {
		st[p.Name] = p.Values[rng.Intn(len(p.Values))]
	}
	return st
}

// Contains reports whether st assigns an admissible value to exactly the
// space's parameters.
func (s *Space) Contains(st optimization.State) bool {
	if len(st) != len(s.params) {
		return false
	}
	for name, v := range st {
		idx, ok := s.index[name]
		if !ok {
			return false
		}
		if _, ok := idx[v]; !ok {
			return false
		}
	}
	return true
}

// Position returns the index of st[name] within the parameter's values.
func (s *Space) Position(name string, value int) (int, bool) {
	idx, ok := s.index[name]
	if !ok {
		return 0, false
	}
	i, ok := idx[value]
	return i, ok
}

// MaxRadius is the largest neighbourhood radius worth using: a quarter of
// the widest parameter, at least one.
func (s *Space) MaxRadius() int {
	r := 1
	for _, p := range s.params {
		if q := len(p.Values) / 4; q > r {
			r = q
		}
	}
	return r
}

// Neighbors returns every state that differs from st in exactly one
// parameter, moved by at most radius positions. Parameters are visited in
// declaration order and offsets from -radius to radius.
func (s *Space) Neighbors(st optimization.State, radius int) []optimization.State {
	if radius < 1 {
		radius = 1
	}
	var out []optimization.State
	for _, p := range s.params {
		pos, ok := s.Position(p.Name, st[p.Name])
		if !ok {
			continue
		}
		for d := -radius; d <= radius; d++ {
			j := pos + d
			if d == 0 || j < 0 || j >= len(p.Values) {
				continue
			}
			n := st.Clone()
			n[p.Name] = p.Values[j]
			out = append(out, n)
		}
	}
	return out
}

func invalid(format string, args ...interface{}) error {
	return optimization.NewError(optimization.ErrInvalidConfig, format, args...).
		WithComponent("tuning")
}
