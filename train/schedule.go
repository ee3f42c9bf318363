package train

import (
	"math"

	"github.com/pkg/errors"
)

// WarmupCosine is a learning-rate multiplier: a cosine decay from 1 to 0 over
// MaxSteps, additionally ramped up linearly over the first WarmupSteps.
type WarmupCosine struct {
	WarmupSteps int
	MaxSteps    int
}

// NewWarmupCosine sizes the schedule from epochs. The warm-up length is
// floor(warmupEpochs * batchesPerEpoch) steps.
func NewWarmupCosine(warmupEpochs float64, epochs, batchesPerEpoch int) (WarmupCosine, error) {
	s := WarmupCosine{
		WarmupSteps: int(math.Floor(warmupEpochs * float64(batchesPerEpoch))),
		MaxSteps:    epochs * batchesPerEpoch,
	}
	if s.MaxSteps <= 0 {
		return s, errors.Wrapf(ErrInvalidSchedule, "%d epochs of %d batches", epochs, batchesPerEpoch)
	}
	if s.WarmupSteps < 0 {
		return s, errors.Wrapf(ErrInvalidSchedule, "warm-up of %g epochs", warmupEpochs)
	}
	return s, nil
}

// Factor is the multiplier applied to the base learning rate at step.
func (s WarmupCosine) Factor(step int) float64 {
	f := 0.5 * (1 + math.Cos(math.Pi*float64(step)/float64(s.MaxSteps)))
	if s.WarmupSteps >= 1 && step <= s.WarmupSteps {
		f *= float64(step) / float64(s.WarmupSteps)
	}
	return f
}
