package train

import (
	"gonum.org/v1/gonum/floats"
)

// EarlyStopper decides after every epoch whether training should stop,
// given the validation losses so far (index i is epoch i+1).
type EarlyStopper interface {
	ShouldStop(valLosses []float64) bool
}

// StopperFunc adapts a function to EarlyStopper.
type StopperFunc func(valLosses []float64) bool

func (f StopperFunc) ShouldStop(valLosses []float64) bool { return f(valLosses) }

// Never runs every epoch.
type Never struct{}

func (Never) ShouldStop([]float64) bool { return false }

// Patience stops once the last Epochs validation losses all failed to beat
// the best earlier loss by more than MinDelta.
type Patience struct {
	Epochs   int
	MinDelta float64
}

func (p Patience) ShouldStop(valLosses []float64) bool {
	if p.Epochs <= 0 || len(valLosses) <= p.Epochs {
		return false
	}
	cut := len(valLosses) - p.Epochs
	best := floats.Min(valLosses[:cut])
	for _, l := range valLosses[cut:] {
		if l < best-p.MinDelta {
			return false
		}
	}
	return true
}
