package annealing

import (
	"fmt"
	"math"
)

// Accept is the Metropolis rule. A candidate that is no worse is always
// accepted; a worse one is accepted iff randomUnit < exp(-(new-old)/T).
// randomUnit must be drawn uniformly from [0,1) by the calling chain.
// A non-positive temperature is a programming error and panics.
func Accept(oldEnergy, newEnergy, temperature, randomUnit float64) bool {
	if !(temperature > 0) {
		panic(fmt.Sprintf("annealing: temperature must be positive, got %v", temperature))
	}
	if newEnergy <= oldEnergy {
		return true
	}
	return randomUnit < AcceptanceProbability(oldEnergy, newEnergy, temperature)
}

// AcceptanceProbability returns the probability that Accept takes a move
// from oldEnergy to newEnergy at temperature.
func AcceptanceProbability(oldEnergy, newEnergy, temperature float64) float64 {
	if newEnergy <= oldEnergy {
		return 1
	}
	return math.Exp(-(newEnergy - oldEnergy) / temperature)
}
