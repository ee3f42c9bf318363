// Package data turns token sequences into padded next-token batches.
package data

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

var ErrBatchSize = errors.New("batch size must be positive")

// Batch is a rectangular set of inputs and their next-token targets.
type Batch struct {
	Inputs  [][]int
	Targets [][]int
}

// Dataset is an indexed, restartable source of batches.
type Dataset interface {
	NumBatches() int
	Batch(i int) Batch
}

// InMemory is a Dataset backed by a slice.
type InMemory []Batch

func (d InMemory) NumBatches() int   { return len(d) }
func (d InMemory) Batch(i int) Batch { return d[i] }

// Windows cuts every sequence into chunks of at most size+1 tokens, so each
// chunk yields at most size input positions. Consecutive chunks share their
// boundary token; chunks shorter than 2 tokens are dropped.
func Windows(seqs [][]int, size int) [][]int {
	var out [][]int
	for _, seq := range seqs {
		for start := 0; start < len(seq)-1; start += size {
			end := min(start+size+1, len(seq))
			out = append(out, seq[start:end])
		}
	}
	return out
}

// NextTokenBatches groups seqs in order into batches of batchSize. Inputs are
// seq[:len-1], targets seq[1:], both right-padded with pad to the longest
// sequence of the batch. Sequences shorter than 2 tokens are skipped.
func NextTokenBatches(seqs [][]int, batchSize, pad int) (InMemory, error) {
	if batchSize < 1 {
		return nil, errors.Wrapf(ErrBatchSize, "got %d", batchSize)
	}
	var usable [][]int
	for _, seq := range seqs {
		if len(seq) >= 2 {
			usable = append(usable, seq)
		}
	}
	var batches InMemory
	for i := 0; i < len(usable); i += batchSize {
		group := usable[i:min(i+batchSize, len(usable))]
		width := 0
		for _, seq := range group {
			width = max(width, len(seq)-1)
		}
		b := Batch{Inputs: make([][]int, len(group)), Targets: make([][]int, len(group))}
		for k, seq := range group {
			b.Inputs[k] = padTo(seq[:len(seq)-1], width, pad)
			b.Targets[k] = padTo(seq[1:], width, pad)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func padTo(seq []int, width, pad int) []int {
	out := make([]int, width)
	n := copy(out, seq)
	for i := n; i < width; i++ {
		out[i] = pad
	}
	return out
}

// Split keeps the first trainFrac of seqs for training and the rest for
// validation. With at least two sequences both sides get one.
func Split(seqs [][]int, trainFrac float64) (train, val [][]int) {
	n := int(float64(len(seqs)) * trainFrac)
	if len(seqs) >= 2 {
		n = max(1, min(n, len(seqs)-1))
	} else {
		n = max(0, min(n, len(seqs)))
	}
	return seqs[:n], seqs[n:]
}

// Shuffle permutes seqs in place using src.
func Shuffle(seqs [][]int, src rand.Source) {
	rand.New(src).Shuffle(len(seqs), func(i, j int) { seqs[i], seqs[j] = seqs[j], seqs[i] })
}
