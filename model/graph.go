package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const layerNormEps = 1e-5

// builder assembles one expression graph for a single forward (and optionally
// backward) pass. Every batch element gets its own 2-D subgraph that shares
// the parameter nodes. Helpers panic through G.Must; Model.run recovers them.
type builder struct {
	g      *G.ExprGraph
	cfg    Config
	params map[string]*G.Node
	learn  []*G.Node

	// drop is nil in evaluation mode.
	drop *distuv.Bernoulli
	n    int
}

func newBuilder(m *Model, dropSrc rand.Source) *builder {
	b := &builder{
		g:      G.NewGraph(),
		cfg:    m.cfg,
		params: make(map[string]*G.Node, m.params.Len()),
	}
	for _, p := range m.params.All() {
		value := p.Value.Clone().(*tensor.Dense)
		var n *G.Node
		if value.Dims() == 1 {
			n = G.NewVector(b.g, tensor.Float64, G.WithShape(value.Shape()...), G.WithName(p.Name), G.WithValue(value))
		} else {
			n = G.NewMatrix(b.g, tensor.Float64, G.WithShape(value.Shape()...), G.WithName(p.Name), G.WithValue(value))
		}
		b.params[p.Name] = n
		b.learn = append(b.learn, n)
	}
	if dropSrc != nil && m.cfg.Dropout > 0 {
		b.drop = &distuv.Bernoulli{P: 1 - m.cfg.Dropout, Src: dropSrc}
	}
	return b
}

// constant binds data as a rows x cols input node with a unique name.
func (b *builder) constant(name string, data []float64, rows, cols int) *G.Node {
	b.n++
	t := tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
	return G.NewMatrix(b.g, tensor.Float64, G.WithShape(rows, cols), G.WithName(fmt.Sprintf("%s_%d", name, b.n)), G.WithValue(t))
}

func (b *builder) filled(name string, rows, cols int, v float64) *G.Node {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = v
	}
	return b.constant(name, data, rows, cols)
}

// rows broadcasts a parameter vector to a rows x len(vec) matrix.
func (b *builder) rows(vec *G.Node, rows int) *G.Node {
	width := vec.Shape()[0]
	row := G.Must(G.Reshape(vec, tensor.Shape{1, width}))
	return G.Must(G.Mul(b.filled("ones", rows, 1, 1), row))
}

func (b *builder) linear(name string, x *G.Node) *G.Node {
	y := G.Must(G.Mul(x, b.params[name+".weight"]))
	return G.Must(G.Add(y, b.rows(b.params[name+".bias"], x.Shape()[0])))
}

func (b *builder) dropout(x *G.Node) *G.Node {
	if b.drop == nil {
		return x
	}
	shape := x.Shape()
	scale := 1 / (1 - b.cfg.Dropout)
	mask := make([]float64, shape.TotalSize())
	for i := range mask {
		mask[i] = b.drop.Rand() * scale
	}
	return G.Must(G.HadamardProd(x, b.constant("dropout", mask, shape[0], shape[1])))
}

// layerNorm normalises every row of x over its columns.
func (b *builder) layerNorm(name string, x *G.Node) *G.Node {
	r, c := x.Shape()[0], x.Shape()[1]
	avg := b.filled("avg", c, c, 1/float64(c))
	mean := G.Must(G.Mul(x, avg))
	centered := G.Must(G.Sub(x, mean))
	variance := G.Must(G.Mul(G.Must(G.HadamardProd(centered, centered)), avg))
	std := G.Must(G.Sqrt(G.Must(G.Add(variance, b.filled("eps", r, c, layerNormEps)))))
	normed := G.Must(G.HadamardDiv(centered, std))
	scaled := G.Must(G.HadamardProd(normed, b.rows(b.params[name+".gain"], r)))
	return G.Must(G.Add(scaled, b.rows(b.params[name+".shift"], r)))
}

// shift subtracts the row maximum from every row of x. Softmax and
// log-softmax are invariant to it and Exp can no longer overflow.
func (b *builder) shift(x *G.Node) *G.Node {
	r, c := x.Shape()[0], x.Shape()[1]
	col := G.Must(G.Reshape(G.Must(G.Max(x, 1)), tensor.Shape{r, 1}))
	return G.Must(G.Sub(x, G.Must(G.Mul(col, b.filled("ones", 1, c, 1)))))
}

// softmax is a row-wise softmax.
func (b *builder) softmax(x *G.Node) *G.Node {
	c := x.Shape()[1]
	e := G.Must(G.Exp(b.shift(x)))
	sums := G.Must(G.Mul(e, b.filled("ones", c, c, 1)))
	return G.Must(G.HadamardDiv(e, sums))
}

// logSoftmax is a row-wise log-softmax.
func (b *builder) logSoftmax(x *G.Node) *G.Node {
	c := x.Shape()[1]
	x = b.shift(x)
	sums := G.Must(G.Mul(G.Must(G.Exp(x)), b.filled("ones", c, c, 1)))
	return G.Must(G.Sub(x, G.Must(G.Log(sums))))
}

// attention is multi-head scaled dot-product attention of queries q over
// keys/values kv. mask holds the additive bias shared by every head.
func (b *builder) attention(name string, q, kv, mask *G.Node) *G.Node {
	rows, cols := q.Shape()[0], kv.Shape()[0]
	scale := b.filled("scale", rows, cols, 1/math.Sqrt(float64(b.cfg.HeadDim())))
	heads := make([]*G.Node, b.cfg.NumHeads)
	for h := range heads {
		qh := b.linear(fmt.Sprintf("%s.q%d", name, h), q)
		kh := b.linear(fmt.Sprintf("%s.k%d", name, h), kv)
		vh := b.linear(fmt.Sprintf("%s.v%d", name, h), kv)
		scores := G.Must(G.Mul(qh, G.Must(G.Transpose(kh))))
		scores = G.Must(G.Add(G.Must(G.HadamardProd(scores, scale)), mask))
		weights := b.dropout(b.softmax(scores))
		heads[h] = G.Must(G.Mul(weights, vh))
	}
	joined := heads[0]
	if len(heads) > 1 {
		joined = G.Must(G.Concat(1, heads...))
	}
	return b.linear(name+".out", joined)
}

func (b *builder) feedForward(x *G.Node) *G.Node {
	h := G.Must(G.Rectify(b.linear("ff1", x)))
	return b.linear("ff2", b.dropout(h))
}

func (b *builder) addNorm(name string, x, sub *G.Node) *G.Node {
	return b.layerNorm(name, G.Must(G.Add(x, b.dropout(sub))))
}

// decode builds the logits (S x V) of one sequence. pos holds the S x E
// positional rows and bias the S x S attention bias.
func (b *builder) decode(tokens []int, pos, bias []float64) *G.Node {
	s, e, v := len(tokens), b.cfg.EmbedDim, b.cfg.VocabSize

	// One-hot rows carry the sqrt(E) embedding scale.
	scale := math.Sqrt(float64(e))
	onehot := make([]float64, s*v)
	for i, tok := range tokens {
		onehot[i*v+tok] = scale
	}
	x := G.Must(G.Mul(b.constant("tokens", onehot, s, v), b.params["embedding"]))
	x = G.Must(G.Add(x, b.constant("position", pos, s, e)))
	x = b.dropout(x)

	memory := x
	mask := b.constant("mask", bias, s, s)
	x = b.addNorm("norm1", x, b.attention("self_attn", x, x, mask))
	x = b.addNorm("norm2", x, b.attention("cross_attn", x, memory, mask))
	x = b.addNorm("norm3", x, b.feedForward(x))
	return b.linear("out", x)
}

// nll returns the summed negative log-likelihood of targets under logits,
// skipping positions whose target is pad, and the number of counted positions.
func (b *builder) nll(logits *G.Node, targets []int, pad int) (*G.Node, int) {
	s, v := logits.Shape()[0], logits.Shape()[1]
	onehot := make([]float64, s*v)
	var count int
	for i, tok := range targets {
		if tok == pad {
			continue
		}
		onehot[i*v+tok] = 1
		count++
	}
	picked := G.Must(G.HadamardProd(b.constant("targets", onehot, s, v), b.logSoftmax(logits)))
	return G.Must(G.Neg(G.Must(G.Sum(picked)))), count
}
