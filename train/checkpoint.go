package train

import (
	"tinylm/model"
)

// Checkpoint is a frozen copy of the parameters of one epoch.
type Checkpoint struct {
	Params model.Snapshot
	Loss   float64
	Epoch  int
}

// BestTracker retains the checkpoint with the lowest validation loss.
type BestTracker struct {
	best *Checkpoint
}

// Consider records the validation loss of epoch. The checkpoint is replaced
// on the first call, or when loss is strictly lower than every loss
// considered before. snapshot is only called on replacement.
func (t *BestTracker) Consider(epoch int, loss float64, snapshot func() model.Snapshot) bool {
	if t.best != nil && !(loss < t.best.Loss) {
		return false
	}
	t.best = &Checkpoint{Params: snapshot(), Loss: loss, Epoch: epoch}
	return true
}

// Best returns the retained checkpoint, if any.
func (t *BestTracker) Best() (Checkpoint, bool) {
	if t.best == nil {
		return Checkpoint{}, false
	}
	return *t.best, true
}
