package model

import (
	"github.com/pkg/errors"
)

var (
	// ErrSequenceTooLong is returned when a sequence exceeds the positional table.
	ErrSequenceTooLong = errors.New("sequence longer than the maximum supported length")
	// ErrTokenOutOfRange is returned for token ids outside [0, VocabSize).
	ErrTokenOutOfRange = errors.New("token id outside the vocabulary")
	ErrEmptyBatch      = errors.New("empty batch")
	ErrRaggedBatch     = errors.New("batch sequences have different lengths")
	ErrInvalidConfig   = errors.New("invalid model configuration")
)

// Config holds the hyper-parameters of the decoder.
type Config struct {
	VocabSize int
	EmbedDim  int
	NumHeads  int

	// FeedForwardDim is the hidden width of the feed-forward block. Zero means 2*EmbedDim.
	FeedForwardDim int

	// MaxSeqLen bounds the positional table.
	MaxSeqLen int

	// Dropout probability used in training mode.
	Dropout float64

	PadToken int
}

// DefaultConfig returns the default configuration for a vocabulary of vocabSize tokens.
func DefaultConfig(vocabSize int) Config {
	return Config{
		VocabSize: vocabSize,
		EmbedDim:  64,
		NumHeads:  2,
		MaxSeqLen: 1000,
		Dropout:   0.1,
		PadToken:  0,
	}
}

// FFDim is the resolved feed-forward width.
func (c Config) FFDim() int {
	if c.FeedForwardDim > 0 {
		return c.FeedForwardDim
	}
	return 2 * c.EmbedDim
}

// HeadDim is the per-head projection width.
func (c Config) HeadDim() int {
	return c.EmbedDim / c.NumHeads
}

func (c Config) Validate() error {
	switch {
	case c.VocabSize < 1:
		return errors.Wrapf(ErrInvalidConfig, "vocab size %d", c.VocabSize)
	case c.EmbedDim < 1:
		return errors.Wrapf(ErrInvalidConfig, "embedding dim %d", c.EmbedDim)
	case c.NumHeads < 1:
		return errors.Wrapf(ErrInvalidConfig, "%d heads", c.NumHeads)
	case c.EmbedDim%c.NumHeads != 0:
		return errors.Wrapf(ErrInvalidConfig, "embedding dim %d not divisible by %d heads", c.EmbedDim, c.NumHeads)
	case c.FeedForwardDim < 0:
		return errors.Wrapf(ErrInvalidConfig, "feed-forward dim %d", c.FeedForwardDim)
	case c.MaxSeqLen < 1:
		return errors.Wrapf(ErrInvalidConfig, "max sequence length %d", c.MaxSeqLen)
	case c.Dropout < 0 || c.Dropout >= 1:
		return errors.Wrapf(ErrInvalidConfig, "dropout %g not in [0, 1)", c.Dropout)
	case c.PadToken < 0 || c.PadToken >= c.VocabSize:
		return errors.Wrapf(ErrInvalidConfig, "pad token %d outside vocabulary of %d", c.PadToken, c.VocabSize)
	}
	return nil
}
