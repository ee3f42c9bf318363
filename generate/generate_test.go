package generate

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinylm/model"
	"tinylm/text"
)

func testModel(t *testing.T, vocab int) *model.Model {
	t.Helper()
	cfg := model.DefaultConfig(vocab)
	cfg.EmbedDim = 8
	cfg.MaxSeqLen = 16
	m, err := model.New(cfg, model.WithSeed(11))
	require.NoError(t, err)
	return m
}

func TestSampleDeterministic(t *testing.T) {
	m := testModel(t, 10)
	a, err := Sample(m, []int{3, 4}, 6, 1, rand.NewPCG(5, 5))
	require.NoError(t, err)
	b, err := Sample(m, []int{3, 4}, 6, 1, rand.NewPCG(5, 5))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 8)
	assert.Equal(t, []int{3, 4}, a[:2])
	for _, tok := range a {
		assert.True(t, tok >= 0 && tok < 10)
	}

	c, err := Sample(m, []int{3, 4}, 8, 1, rand.NewPCG(5, 5))
	require.NoError(t, err)
	d, err := Sample(m, []int{3, 4}, 8, 1, rand.NewPCG(6, 6))
	require.NoError(t, err)
	assert.NotEqual(t, c, d, "different seeds should give different samples")
}

func TestSampleColdIsGreedy(t *testing.T) {
	m := testModel(t, 10)
	seq, err := Sample(m, []int{2, 7, 5}, 1, 1e-6, rand.NewPCG(1, 2))
	require.NoError(t, err)

	logits, err := m.Forward([][]int{{2, 7, 5}})
	require.NoError(t, err)
	data := logits.Data().([]float64)
	last := data[len(data)-10:]
	best := 0
	for i, l := range last {
		if l > last[best] {
			best = i
		}
	}
	assert.Equal(t, best, seq[3])
}

func TestSampleErrors(t *testing.T) {
	m := testModel(t, 10)
	_, err := Sample(m, []int{1}, 3, 0, rand.NewPCG(1, 1))
	assert.True(t, errors.Is(err, ErrInvalidTemperature))
	_, err = Sample(m, nil, 3, 1, rand.NewPCG(1, 1))
	assert.True(t, errors.Is(err, ErrEmptyPrompt))

	prompt := make([]int, 10)
	for i := range prompt {
		prompt[i] = 1
	}
	_, err = Sample(m, prompt, 10, 1, rand.NewPCG(1, 1))
	assert.True(t, errors.Is(err, model.ErrSequenceTooLong), "got %v", err)
}

func TestWeights(t *testing.T) {
	w := weights([]float64{1, 2, 3}, 0.5)
	assert.InDelta(t, 1, w[2], 1e-12)
	assert.Less(t, w[0], w[1])
	assert.Less(t, w[1], w[2])
}

func TestFormat(t *testing.T) {
	got := Format("the cat", []string{"sat", "down", text.EOS, "a", "dog", text.EOS}, text.EOS)
	assert.Equal(t, "==> THE CAT Sat down. A dog....", got)
}

func TestGenerate(t *testing.T) {
	tok := text.NewTokenizer()
	tok.BuildVocab("the cat sat. the dog ran. a bird flew", 0)
	m := testModel(t, tok.VocabSize())

	cfg := DefaultConfig()
	cfg.OutputLength = 5
	a, err := Generate(m, "the cat", tok, cfg)
	require.NoError(t, err)
	b, err := Generate(m, "the cat", tok, cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "==> THE CAT "), a)
	assert.True(t, strings.HasSuffix(a, "..."), a)
}
