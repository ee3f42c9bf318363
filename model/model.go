// Package model implements a single-block transformer decoder language model
// on top of gorgonia expression graphs.
package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"
)

// DefaultSeed seeds parameter initialisation when WithSeed is not given.
const DefaultSeed uint64 = 42

// Model owns the parameters of the decoder. It is not safe for concurrent use.
type Model struct {
	cfg    Config
	params *Params
	pos    *PositionalEncoding
	vmOpts []G.VMOpt
}

type options struct {
	seed   uint64
	vmOpts []G.VMOpt
}

// Option configures New.
type Option func(*options)

// WithSeed sets the seed of the parameter initialisation.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithVMOptions passes options to every tape machine the model creates.
func WithVMOptions(opts ...G.VMOpt) Option {
	return func(o *options) { o.vmOpts = append(o.vmOpts, opts...) }
}

// New creates a model with Xavier-uniform initialised weights.
func New(cfg Config, opts ...Option) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{seed: DefaultSeed}
	for _, opt := range opts {
		opt(&o)
	}
	pos, err := NewPositionalEncoding(cfg.EmbedDim, cfg.MaxSeqLen)
	if err != nil {
		return nil, err
	}
	m := &Model{cfg: cfg, params: newParams(), pos: pos, vmOpts: o.vmOpts}
	m.register()
	m.params.xavierUniform(rand.NewPCG(o.seed, o.seed))
	klog.V(1).Infof("model: V=%d E=%d heads=%d ff=%d, %d parameters", cfg.VocabSize, cfg.EmbedDim, cfg.NumHeads, cfg.FFDim(), m.params.Count())
	return m, nil
}

func (m *Model) register() {
	e, v, d, f := m.cfg.EmbedDim, m.cfg.VocabSize, m.cfg.HeadDim(), m.cfg.FFDim()
	linear := func(name string, in, out int) {
		m.params.add(name+".weight", 0, in, out)
		m.params.add(name+".bias", 0, out)
	}
	norm := func(name string) {
		m.params.add(name+".gain", 1, e)
		m.params.add(name+".shift", 0, e)
	}

	m.params.add("embedding", 0, v, e)
	for _, attn := range []string{"self_attn", "cross_attn"} {
		for h := 0; h < m.cfg.NumHeads; h++ {
			for _, proj := range []string{"q", "k", "v"} {
				linear(fmt.Sprintf("%s.%s%d", attn, proj, h), e, d)
			}
		}
		linear(attn+".out", e, e)
	}
	linear("ff1", e, f)
	linear("ff2", f, e)
	norm("norm1")
	norm("norm2")
	norm("norm3")
	linear("out", e, v)
}

func (m *Model) Config() Config { return m.cfg }

// Params exposes the trainable parameters. Optimisers update them in place.
func (m *Model) Params() *Params { return m.params }

func (m *Model) NumParams() int { return m.params.Count() }

// Snapshot deep-copies the current parameters.
func (m *Model) Snapshot() Snapshot { return m.params.Snapshot() }

// Restore loads parameters previously taken with Snapshot.
func (m *Model) Restore(s Snapshot) error { return m.params.Restore(s) }

// Forward returns the logits of a rectangular batch in evaluation mode, shaped (B, S, V).
func (m *Model) Forward(batch [][]int) (*tensor.Dense, error) {
	p, err := m.run(batch, nil, nil, false)
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(len(batch), len(batch[0]), m.cfg.VocabSize), tensor.WithBacking(p.logits)), nil
}

// Loss is the mean cross-entropy of targets in evaluation mode. Positions whose
// target is the pad token are ignored; a batch with no such position has loss 0.
func (m *Model) Loss(inputs, targets [][]int) (float64, error) {
	p, err := m.run(inputs, targets, nil, false)
	if err != nil {
		return 0, err
	}
	return p.loss, nil
}

// LossAndGrads runs a training-mode pass and returns the loss and the
// gradient of every parameter, aligned with Params().All(). Dropout masks are
// drawn from dropoutSrc; a nil source disables dropout.
func (m *Model) LossAndGrads(inputs, targets [][]int, dropoutSrc rand.Source) (float64, Gradients, error) {
	p, err := m.run(inputs, targets, dropoutSrc, true)
	if err != nil {
		return 0, nil, err
	}
	return p.loss, p.grads, nil
}

type pass struct {
	// logits are row-major (B, S, V); only set without targets.
	logits []float64
	loss   float64
	grads  Gradients
}

func (m *Model) validate(batch [][]int, what string) (int, error) {
	s, err := batchLen(batch)
	if err != nil {
		return 0, errors.Wrap(err, what)
	}
	if s > m.cfg.MaxSeqLen {
		return 0, errors.Wrapf(ErrSequenceTooLong, "%s length %d, maximum %d", what, s, m.cfg.MaxSeqLen)
	}
	for b, seq := range batch {
		for i, tok := range seq {
			if tok < 0 || tok >= m.cfg.VocabSize {
				return 0, errors.Wrapf(ErrTokenOutOfRange, "%s[%d][%d] = %d, vocabulary size %d", what, b, i, tok, m.cfg.VocabSize)
			}
		}
	}
	return s, nil
}

func (m *Model) run(inputs, targets [][]int, dropoutSrc rand.Source, withGrads bool) (*pass, error) {
	s, err := m.validate(inputs, "inputs")
	if err != nil {
		return nil, err
	}
	if targets != nil {
		ts, err := m.validate(targets, "targets")
		if err != nil {
			return nil, err
		}
		if ts != s || len(targets) != len(inputs) {
			return nil, errors.Wrapf(ErrRaggedBatch, "targets %dx%d, inputs %dx%d", len(targets), ts, len(inputs), s)
		}
	}
	masks, err := MakeMasks(inputs, m.cfg.PadToken, m.cfg.NumHeads)
	if err != nil {
		return nil, err
	}
	pos, err := m.pos.Rows(s)
	if err != nil {
		return nil, err
	}

	var (
		b                  *builder
		loss               *G.Node
		lossVal, logitsVal G.Value
	)
	err = exceptions.TryCatch[error](func() {
		b = newBuilder(m, dropoutSrc)
		var (
			logits []*G.Node
			total  *G.Node
			count  int
		)
		for i, seq := range inputs {
			l := b.decode(seq, pos, masks.Bias(i))
			logits = append(logits, l)
			if targets == nil {
				continue
			}
			nll, n := b.nll(l, targets[i], m.cfg.PadToken)
			count += n
			if total == nil {
				total = nll
			} else {
				total = G.Must(G.Add(total, nll))
			}
		}
		if targets == nil {
			out := logits[0]
			if len(logits) > 1 {
				out = G.Must(G.Concat(0, logits...))
			}
			G.Read(out, &logitsVal)
			return
		}
		scale := 0.0
		if count > 0 {
			scale = 1 / float64(count)
		}
		norm := G.NewScalar(b.g, tensor.Float64, G.WithName("norm"), G.WithValue(G.NewF64(scale)))
		loss = G.Must(G.Mul(total, norm))
		G.Read(loss, &lossVal)
	})
	if err != nil {
		return nil, errors.Wrap(err, "building graph")
	}

	vmOpts := append([]G.VMOpt(nil), m.vmOpts...)
	if withGrads {
		if loss == nil {
			return nil, errors.New("gradients need targets")
		}
		if _, err := G.Grad(loss, b.learn...); err != nil {
			return nil, errors.Wrap(err, "symbolic gradients")
		}
		vmOpts = append(vmOpts, G.BindDualValues(b.learn...))
	}
	vm := G.NewTapeMachine(b.g, vmOpts...)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "running graph")
	}

	p := &pass{}
	if logitsVal != nil {
		p.logits = append([]float64(nil), logitsVal.Data().([]float64)...)
	}
	if lossVal != nil {
		p.loss = lossVal.Data().(float64)
	}
	if withGrads {
		p.grads = make(Gradients, len(b.learn))
		for i, n := range b.learn {
			g, err := n.Grad()
			if err != nil {
				return nil, errors.Wrapf(err, "gradient of %s", n.Name())
			}
			p.grads[i] = append([]float64(nil), g.Data().([]float64)...)
		}
	}
	return p, nil
}
