package model

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCausalMask(t *testing.T) {
	m := CausalMask(4)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			assert.Equal(t, j > i, m[i][j], "(%d,%d)", i, j)
		}
	}
}

func TestMakeMasks(t *testing.T) {
	batch := [][]int{
		{4, 5, 0, 0},
		{0, 7, 0, 3},
	}
	masks, err := MakeMasks(batch, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, masks.SeqLen())
	assert.Equal(t, 2, masks.Heads)
	assert.Equal(t, [][]bool{{false, false, true, true}, {true, false, true, false}}, masks.Padding)

	for h := 0; h < masks.Heads; h++ {
		assert.False(t, masks.Forbidden(0, h, 1, 0))
		assert.True(t, masks.Forbidden(0, h, 1, 2), "causal")
		assert.True(t, masks.Forbidden(1, h, 3, 2), "padding")
		assert.False(t, masks.Forbidden(1, h, 3, 3))
	}
}

func TestMaskBias(t *testing.T) {
	masks, err := MakeMasks([][]int{{0, 2, 0}}, 0, 1)
	require.NoError(t, err)
	bias := masks.Bias(0)
	require.Len(t, bias, 9)

	// Row 0 is a pad query with no visible key: it falls back to itself.
	assert.Equal(t, []float64{0, maskBias, maskBias}, bias[0:3])
	assert.Equal(t, []float64{maskBias, 0, maskBias}, bias[3:6])
	assert.Equal(t, []float64{maskBias, 0, maskBias}, bias[6:9])
}

func TestMakeMasksErrors(t *testing.T) {
	_, err := MakeMasks(nil, 0, 1)
	assert.True(t, errors.Is(err, ErrEmptyBatch))

	_, err = MakeMasks([][]int{{1, 2}, {3}}, 0, 1)
	assert.True(t, errors.Is(err, ErrRaggedBatch))

	_, err = MakeMasks([][]int{{1}}, 0, 0)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
