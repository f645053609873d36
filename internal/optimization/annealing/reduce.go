package annealing

import (
	"errors"

	"github.com/copyleftdev/tundr-anneal/internal/optimization"
)

// ErrNoCandidates is returned by Reduce for an empty input.
var ErrNoCandidates = errors.New("no candidates to reduce")

// Reduce returns the minimum-energy candidate. Ties keep the candidate that
// comes first, so the result depends only on the iteration order of cands.
func Reduce(cands []optimization.Candidate) (optimization.Candidate, error) {
	if len(cands) == 0 {
		return optimization.Candidate{}, ErrNoCandidates
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Less(best) {
			best = c
		}
	}
	return best, nil
}
