package model

import (
	"github.com/pkg/errors"
)

// maskBias is added to attention scores at forbidden positions.
const maskBias = -1e9

// Masks are the attention masks of one batch. true means the key is hidden from the query.
type Masks struct {
	// Causal[i][j] hides key j from query i when j > i.
	Causal [][]bool
	// Padding[b][j] hides key j of batch element b when it is the pad token.
	Padding [][]bool
	// Heads is the number of attention heads the masks are replicated to.
	Heads int
}

// CausalMask returns the seqLen x seqLen upper-triangular mask.
func CausalMask(seqLen int) [][]bool {
	m := make([][]bool, seqLen)
	for i := range m {
		m[i] = make([]bool, seqLen)
		for j := i + 1; j < seqLen; j++ {
			m[i][j] = true
		}
	}
	return m
}

// PaddingMask marks the pad positions of every sequence in batch.
func PaddingMask(batch [][]int, pad int) [][]bool {
	m := make([][]bool, len(batch))
	for b, seq := range batch {
		m[b] = make([]bool, len(seq))
		for j, tok := range seq {
			m[b][j] = tok == pad
		}
	}
	return m
}

// MakeMasks derives the causal and padding masks of a rectangular batch.
func MakeMasks(batch [][]int, pad, heads int) (Masks, error) {
	seqLen, err := batchLen(batch)
	if err != nil {
		return Masks{}, err
	}
	if heads < 1 {
		return Masks{}, errors.Wrapf(ErrInvalidConfig, "%d heads", heads)
	}
	return Masks{
		Causal:  CausalMask(seqLen),
		Padding: PaddingMask(batch, pad),
		Heads:   heads,
	}, nil
}

// SeqLen is the length of every sequence in the batch.
func (m Masks) SeqLen() int { return len(m.Causal) }

// Forbidden reports whether query i of batch element b may not see key j
// in the given head. Every head shares the same mask.
func (m Masks) Forbidden(b, _, i, j int) bool {
	return m.Causal[i][j] || m.Padding[b][j]
}

// Bias renders the additive attention bias of batch element b, row-major S x S.
// A query that can see no key at all (a pad token at position 0, or a pad
// query whose visible prefix is all pad) is allowed to see itself so its
// softmax stays finite; such rows only ever belong to pad positions.
func (m Masks) Bias(b int) []float64 {
	s := m.SeqLen()
	bias := make([]float64, s*s)
	for i := 0; i < s; i++ {
		row := bias[i*s : (i+1)*s]
		open := false
		for j := 0; j < s; j++ {
			if m.Forbidden(b, 0, i, j) {
				row[j] = maskBias
			} else {
				open = true
			}
		}
		if !open {
			row[i] = 0
		}
	}
	return bias
}

func batchLen(batch [][]int) (int, error) {
	if len(batch) == 0 || len(batch[0]) == 0 {
		return 0, ErrEmptyBatch
	}
	n := len(batch[0])
	for b, seq := range batch {
		if len(seq) != n {
			return 0, errors.Wrapf(ErrRaggedBatch, "sequence %d has length %d, want %d", b, len(seq), n)
		}
	}
	return n, nil
}
