package model

import (
	"math"

	"github.com/pkg/errors"
)

// PositionalEncoding is a precomputed sinusoidal table of maxLen rows by dim columns.
// Even columns hold sin(p / 10000^(2i/dim)), odd columns the matching cos.
type PositionalEncoding struct {
	dim, maxLen int
	table       []float64
}

func NewPositionalEncoding(dim, maxLen int) (*PositionalEncoding, error) {
	if dim < 1 || maxLen < 1 {
		return nil, errors.Wrapf(ErrInvalidConfig, "positional encoding %dx%d", maxLen, dim)
	}
	pe := &PositionalEncoding{dim: dim, maxLen: maxLen, table: make([]float64, dim*maxLen)}
	logBase := math.Log(10000) / float64(dim)
	for pos := 0; pos < maxLen; pos++ {
		row := pe.table[pos*dim : (pos+1)*dim]
		for i := 0; i < dim; i++ {
			angle := float64(pos) * math.Exp(-float64(2*(i/2))*logBase)
			if i%2 == 0 {
				row[i] = math.Sin(angle)
			} else {
				row[i] = math.Cos(angle)
			}
		}
	}
	return pe, nil
}

func (pe *PositionalEncoding) Dim() int    { return pe.dim }
func (pe *PositionalEncoding) MaxLen() int { return pe.maxLen }

// At returns the value for position pos and feature i.
func (pe *PositionalEncoding) At(pos, i int) float64 {
	return pe.table[pos*pe.dim+i]
}

// Rows returns a copy of the first seqLen rows, row-major.
func (pe *PositionalEncoding) Rows(seqLen int) ([]float64, error) {
	if seqLen > pe.maxLen {
		return nil, errors.Wrapf(ErrSequenceTooLong, "length %d, maximum %d", seqLen, pe.maxLen)
	}
	if seqLen < 0 {
		seqLen = 0
	}
	return append([]float64(nil), pe.table[:seqLen*pe.dim]...), nil
}
