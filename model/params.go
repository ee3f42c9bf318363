package model

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// Param is a named trainable tensor owned by a Model.
type Param struct {
	Name  string
	Value *tensor.Dense
}

// Data returns the backing slice of the parameter. Writes go straight into the model.
func (p *Param) Data() []float64 {
	return p.Value.Data().([]float64)
}

// Params is the ordered set of trainable tensors of a Model. The order is
// fixed at construction and is the order Gradients are reported in.
type Params struct {
	list  []*Param
	index map[string]int
}

func newParams() *Params {
	return &Params{index: make(map[string]int)}
}

// add registers a zero (or fill-valued) tensor of the given shape.
func (ps *Params) add(name string, fill float64, shape ...int) *Param {
	size := 1
	for _, d := range shape {
		size *= d
	}
	backing := make([]float64, size)
	if fill != 0 {
		for i := range backing {
			backing[i] = fill
		}
	}
	p := &Param{
		Name:  name,
		Value: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)),
	}
	ps.index[name] = len(ps.list)
	ps.list = append(ps.list, p)
	return p
}

// All returns the parameters in registration order.
func (ps *Params) All() []*Param {
	return ps.list
}

// Get returns the named parameter or nil.
func (ps *Params) Get(name string) *Param {
	i, ok := ps.index[name]
	if !ok {
		return nil
	}
	return ps.list[i]
}

// Len is the number of parameter tensors.
func (ps *Params) Len() int {
	return len(ps.list)
}

// Count is the total number of scalar parameters.
func (ps *Params) Count() int {
	var n int
	for _, p := range ps.list {
		n += p.Value.Shape().TotalSize()
	}
	return n
}

// xavierUniform fills every parameter with more than one dimension from
// U(-a, a), a = sqrt(6 / (fan_in + fan_out)). Vectors keep their fill value.
func (ps *Params) xavierUniform(src rand.Source) {
	for _, p := range ps.list {
		shape := p.Value.Shape()
		if shape.Dims() < 2 {
			continue
		}
		fanIn, fanOut := shape[0], shape[1]
		a := math.Sqrt(6 / float64(fanIn+fanOut))
		u := distuv.Uniform{Min: -a, Max: a, Src: src}
		data := p.Data()
		for i := range data {
			data[i] = u.Rand()
		}
	}
}

// Snapshot is a deep copy of parameter values keyed by parameter name.
type Snapshot map[string][]float64

// Snapshot copies the current parameter values.
func (ps *Params) Snapshot() Snapshot {
	s := make(Snapshot, len(ps.list))
	for _, p := range ps.list {
		s[p.Name] = append([]float64(nil), p.Data()...)
	}
	return s
}

// Restore overwrites the parameter values with the ones in s. Every
// parameter must be present with a matching size.
func (ps *Params) Restore(s Snapshot) error {
	for _, p := range ps.list {
		values, ok := s[p.Name]
		if !ok {
			return errors.Errorf("snapshot is missing parameter %q", p.Name)
		}
		data := p.Data()
		if len(values) != len(data) {
			return errors.Errorf("snapshot parameter %q has %d values, want %d", p.Name, len(values), len(data))
		}
		copy(data, values)
	}
	return nil
}

// Gradients holds one gradient slice per parameter, aligned with Params.All.
type Gradients [][]float64
