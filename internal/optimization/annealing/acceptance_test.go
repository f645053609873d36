package annealing

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

func TestAcceptNoWorseIsAlwaysAccepted(t *testing.T) {
	pairs := [][2]float64{{0.5, 0.5}, {0.5, 0.2}, {1, 0}, {0.3, 0.2999}}
	units := []float64{0, 0.25, 0.5, 0.999999}
	for _, temp := range []float64{1e-6, 0.1, 1, 100} {
		for _, p := range pairs {
			for _, r := range units {
				assert.True(t, Accept(p[0], p[1], temp, r), "old=%v new=%v T=%v r=%v", p[0], p[1], temp, r)
			}
		}
	}
}

func TestAcceptWorseFollowsBoltzmann(t *testing.T) {
	want := math.Exp(-0.3)
	assert.InDelta(t, 0.7408182206817179, want, 1e-15)
	assert.InDelta(t, want, AcceptanceProbability(0.2, 0.5, 1.0), 1e-15)

	// Threshold behaviour around the probability.
	assert.True(t, Accept(0.2, 0.5, 1.0, want-1e-9))
	assert.False(t, Accept(0.2, 0.5, 1.0, want))

	const draws = 200000
	rng := rand.New(rand.NewSource(99))
	outcomes := make([]float64, draws)
	for i := range outcomes {
		if Accept(0.2, 0.5, 1.0, rng.Float64()) {
			outcomes[i] = 1
		}
	}
	got := stat.Mean(outcomes, nil)
	sigma := math.Sqrt(want * (1 - want) / draws)
	assert.InDelta(t, want, got, 5*sigma)
}

func TestAcceptRejectsNaN(t *testing.T) {
	assert.False(t, Accept(0.2, math.NaN(), 1.0, 0))
	assert.True(t, Accept(math.Inf(1), 0.9, 1.0, 0.99))
}

func TestAcceptPanicsOnNonPositiveTemperature(t *testing.T) {
	for _, temp := range []float64{0, -1, math.NaN()} {
		assert.Panics(t, func() { Accept(0.2, 0.5, temp, 0.5) }, "T=%v", temp)
	}
}
