package annealing

import (
	"fmt"
	"math"
)

// CoolingSchedule selects how temperature decreases over a chain.
type CoolingSchedule string

const (
	// Linear interpolates between MaxTemp and MinTemp.
	Linear CoolingSchedule = "linear"
	// Exponential interpolates geometrically between MaxTemp and MinTemp.
	Exponential CoolingSchedule = "exponential"
	// BasicExpCooling decays as MaxTemp*exp(-k*step) with k chosen so the
	// last step reaches MinTemp.
	BasicExpCooling CoolingSchedule = "basic_exp_cooling"
)

// ParseCoolingSchedule parses a schedule name.
func ParseCoolingSchedule(s string) (CoolingSchedule, error) {
	switch c := CoolingSchedule(s); c {
	case Linear, Exponential, BasicExpCooling:
		return c, nil
	default:
		return "", fmt.Errorf("cooling schedule %q: not a valid value", s)
	}
}

// Valid reports whether c names a known schedule.
func (c CoolingSchedule) Valid() bool {
	_, err := ParseCoolingSchedule(string(c))
	return err == nil
}

// Temperature returns the temperature at currentStep of a chain of maxSteps
// steps. It equals maxTemp at step 0 and minTemp at step maxSteps and never
// increases in between. Steps past maxSteps are not rejected.
func (c CoolingSchedule) Temperature(minTemp, maxTemp float64, maxSteps, currentStep uint64) float64 {
	if maxSteps == 0 {
		return minTemp
	}
	progress := float64(currentStep) / float64(maxSteps)

	switch c {
	case Linear:
		return maxTemp - (maxTemp-minTemp)*progress
	case Exponential:
		return maxTemp * math.Pow(minTemp/maxTemp, progress)
	case BasicExpCooling:
		k := math.Log(maxTemp/minTemp) / float64(maxSteps)
		return maxTemp * math.Exp(-k*float64(currentStep))
	default:
		panic(fmt.Sprintf("annealing: unknown cooling schedule %q", string(c)))
	}
}
