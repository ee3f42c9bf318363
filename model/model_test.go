package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func testConfig() Config {
	cfg := DefaultConfig(10)
	cfg.EmbedDim = 8
	cfg.MaxSeqLen = 16
	return cfg
}

func newTestModel(t *testing.T, cfg Config) *Model {
	t.Helper()
	m, err := New(cfg, WithSeed(7))
	require.NoError(t, err)
	return m
}

// row returns logits[b, i, :].
func row(t *testing.T, logits *tensor.Dense, b, i int) []float64 {
	t.Helper()
	shape := logits.Shape()
	s, v := shape[1], shape[2]
	data := logits.Data().([]float64)
	start := (b*s + i) * v
	return data[start : start+v]
}

func assertRowsEqual(t *testing.T, want, got []float64, msg string) {
	t.Helper()
	require.Len(t, got, len(want))
	for k := range want {
		assert.InDelta(t, want[k], got[k], 1e-9, "%s, logit %d", msg, k)
	}
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"no vocab":       func(c *Config) { c.VocabSize = 0 },
		"heads divide":   func(c *Config) { c.NumHeads = 3 },
		"dropout one":    func(c *Config) { c.Dropout = 1 },
		"pad outside":    func(c *Config) { c.PadToken = 10 },
		"no positions":   func(c *Config) { c.MaxSeqLen = 0 },
		"negative width": func(c *Config) { c.FeedForwardDim = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := New(cfg)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
	assert.NoError(t, testConfig().Validate())
	assert.Equal(t, 16, testConfig().FFDim())
}

func TestInitialisation(t *testing.T) {
	cfg := testConfig()
	m := newTestModel(t, cfg)

	// E*V + 2 attention blocks of (3 heads-worth of E->E/H projections + out) + ffn + 3 norms + out.
	e, v, f := 8, 10, 16
	attn := 3*(e*e+e) + e*e + e
	want := v*e + 2*attn + (e*f + f) + (f*e + e) + 3*2*e + (e*v + v)
	assert.Equal(t, want, m.NumParams())

	for _, p := range m.Params().All() {
		shape := p.Value.Shape()
		data := p.Data()
		if shape.Dims() > 1 {
			a := math.Sqrt(6 / float64(shape[0]+shape[1]))
			var nonZero int
			for _, x := range data {
				assert.LessOrEqual(t, math.Abs(x), a, p.Name)
				if x != 0 {
					nonZero++
				}
			}
			assert.Greater(t, nonZero, 0, p.Name)
			continue
		}
		fill := 0.0
		if p.Name == "norm1.gain" || p.Name == "norm2.gain" || p.Name == "norm3.gain" {
			fill = 1
		}
		for _, x := range data {
			assert.Equal(t, fill, x, p.Name)
		}
	}

	// Same seed, same weights.
	again := newTestModel(t, cfg)
	assert.Equal(t, m.Snapshot(), again.Snapshot())
	other, err := New(cfg, WithSeed(8))
	require.NoError(t, err)
	assert.NotEqual(t, m.Snapshot()["embedding"], other.Snapshot()["embedding"])
}

func TestForwardShape(t *testing.T) {
	m := newTestModel(t, testConfig())
	logits, err := m.Forward([][]int{{1, 2, 3}, {4, 5, 0}})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 10}, logits.Shape())
	for _, x := range logits.Data().([]float64) {
		assert.False(t, math.IsNaN(x) || math.IsInf(x, 0))
	}
}

func TestForwardCausality(t *testing.T) {
	m := newTestModel(t, testConfig())
	a, err := m.Forward([][]int{{2, 3, 4, 5, 6}})
	require.NoError(t, err)
	b, err := m.Forward([][]int{{2, 3, 4, 9, 1}})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assertRowsEqual(t, row(t, a, 0, i), row(t, b, 0, i), "prefix position")
	}
	assert.NotEqual(t, row(t, a, 0, 3), row(t, b, 0, 3))
}

func TestForwardPaddingInvariance(t *testing.T) {
	m := newTestModel(t, testConfig())
	batch := [][]int{{3, 0, 5, 7, 0, 0}}
	before, err := m.Forward(batch)
	require.NoError(t, err)

	// Changing the pad embedding must not move any non-pad position.
	emb := m.Params().Get("embedding")
	require.NotNil(t, emb)
	data := emb.Data()
	for k := 0; k < 8; k++ {
		data[k] += 3.5
	}
	after, err := m.Forward(batch)
	require.NoError(t, err)
	for _, i := range []int{0, 2, 3} {
		assertRowsEqual(t, row(t, before, 0, i), row(t, after, 0, i), "non-pad position")
	}
	assert.NotEqual(t, row(t, before, 0, 4), row(t, after, 0, 4))
}

func TestForwardBatchIndependence(t *testing.T) {
	m := newTestModel(t, testConfig())
	alone, err := m.Forward([][]int{{6, 2, 8}})
	require.NoError(t, err)
	batched, err := m.Forward([][]int{{1, 1, 1}, {6, 2, 8}})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assertRowsEqual(t, row(t, alone, 0, i), row(t, batched, 1, i), "batch element")
	}
}

func TestForwardErrors(t *testing.T) {
	m := newTestModel(t, testConfig())

	_, err := m.Forward([][]int{{1, 10}})
	assert.True(t, errors.Is(err, ErrTokenOutOfRange), "got %v", err)
	_, err = m.Forward([][]int{{-1}})
	assert.True(t, errors.Is(err, ErrTokenOutOfRange), "got %v", err)

	long := make([]int, 17)
	_, err = m.Forward([][]int{long})
	assert.True(t, errors.Is(err, ErrSequenceTooLong), "got %v", err)

	_, err = m.Forward(nil)
	assert.True(t, errors.Is(err, ErrEmptyBatch), "got %v", err)
	_, err = m.Forward([][]int{{1, 2}, {1}})
	assert.True(t, errors.Is(err, ErrRaggedBatch), "got %v", err)

	_, err = m.Loss([][]int{{1, 2}}, [][]int{{1, 2, 3}})
	assert.True(t, errors.Is(err, ErrRaggedBatch), "got %v", err)
}

func TestLossMasking(t *testing.T) {
	m := newTestModel(t, testConfig())

	loss, err := m.Loss([][]int{{1, 2, 3}}, [][]int{{0, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, loss)

	loss, grads, err := m.LossAndGrads([][]int{{1, 2, 3}}, [][]int{{0, 0, 0}}, rand.NewPCG(1, 1))
	require.NoError(t, err)
	assert.Equal(t, 0.0, loss)
	require.Len(t, grads, m.Params().Len())
	for i, g := range grads {
		for _, x := range g {
			assert.Equal(t, 0.0, x, m.Params().All()[i].Name)
		}
	}

	// Loss is the mean over non-pad targets only.
	inputs := [][]int{{4, 5, 6}}
	logits, err := m.Forward(inputs)
	require.NoError(t, err)
	var want float64
	for i, target := range []int{5, 6} {
		r := row(t, logits, 0, i)
		var z float64
		for _, x := range r {
			z += math.Exp(x)
		}
		want += math.Log(z) - r[target]
	}
	want /= 2
	loss, err = m.Loss(inputs, [][]int{{5, 6, 0}})
	require.NoError(t, err)
	assert.InDelta(t, want, loss, 1e-9)
}

func TestLossInvariantToLogitShift(t *testing.T) {
	m := newTestModel(t, testConfig())
	inputs := [][]int{{4, 5, 6, 2}}
	targets := [][]int{{5, 6, 2, 0}}
	want, err := m.Loss(inputs, targets)
	require.NoError(t, err)

	bias := m.Params().Get("out.bias").Data()
	for i := range bias {
		bias[i] += 800
	}
	got, err := m.Loss(inputs, targets)
	require.NoError(t, err)
	require.False(t, math.IsNaN(got) || math.IsInf(got, 0), "loss %g", got)
	assert.InDelta(t, want, got, 1e-9)

	loss, grads, err := m.LossAndGrads(inputs, targets, rand.NewPCG(3, 3))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
	for i, g := range grads {
		for _, x := range g {
			require.False(t, math.IsNaN(x) || math.IsInf(x, 0), m.Params().All()[i].Name)
		}
	}
}

func TestLossAndGradsMatchesFiniteDifferences(t *testing.T) {
	cfg := testConfig()
	cfg.Dropout = 0
	m := newTestModel(t, cfg)
	inputs := [][]int{{1, 4, 2, 7}, {3, 3, 9, 0}}
	targets := [][]int{{4, 2, 7, 5}, {3, 9, 8, 0}}

	loss, grads, err := m.LossAndGrads(inputs, targets, nil)
	require.NoError(t, err)
	evalLoss, err := m.Loss(inputs, targets)
	require.NoError(t, err)
	assert.InDelta(t, evalLoss, loss, 1e-12)

	const h = 1e-6
	for pi, p := range m.Params().All() {
		data := p.Data()
		for _, k := range []int{0, len(data) / 2, len(data) - 1} {
			orig := data[k]
			data[k] = orig + h
			up, err := m.Loss(inputs, targets)
			require.NoError(t, err)
			data[k] = orig - h
			down, err := m.Loss(inputs, targets)
			require.NoError(t, err)
			data[k] = orig

			numeric := (up - down) / (2 * h)
			assert.InDelta(t, numeric, grads[pi][k], 1e-5, "%s[%d]", p.Name, k)
		}
	}
}

func TestDropoutOnlyInTraining(t *testing.T) {
	cfg := testConfig()
	cfg.Dropout = 0.5
	m := newTestModel(t, cfg)
	inputs := [][]int{{1, 2, 3, 4}}
	targets := [][]int{{2, 3, 4, 5}}

	a, err := m.Loss(inputs, targets)
	require.NoError(t, err)
	b, err := m.Loss(inputs, targets)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	la, ga, err := m.LossAndGrads(inputs, targets, rand.NewPCG(3, 3))
	require.NoError(t, err)
	lb, gb, err := m.LossAndGrads(inputs, targets, rand.NewPCG(3, 3))
	require.NoError(t, err)
	assert.Equal(t, la, lb)
	assert.Equal(t, ga, gb)
	assert.NotEqual(t, a, la)
}

func TestSnapshotRestore(t *testing.T) {
	m := newTestModel(t, testConfig())
	snap := m.Snapshot()
	before, err := m.Forward([][]int{{1, 2, 3}})
	require.NoError(t, err)

	for _, p := range m.Params().All() {
		data := p.Data()
		for i := range data {
			data[i] += 0.25
		}
	}
	// Snapshots are deep copies.
	assert.NotEqual(t, snap["out.bias"], m.Params().Get("out.bias").Data())

	require.NoError(t, m.Restore(snap))
	after, err := m.Forward([][]int{{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, before.Data(), after.Data())

	delete(snap, "embedding")
	assert.Error(t, m.Restore(snap))
}
