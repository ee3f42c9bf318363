package train

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"tinylm/model"
)

// AdamConfig holds the Adam hyper-parameters. The learning rate is supplied per step.
type AdamConfig struct {
	Beta1, Beta2, Eps float64
}

func DefaultAdamConfig() AdamConfig {
	return AdamConfig{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

// Adam keeps the first and second moment estimates of every parameter.
type Adam struct {
	cfg  AdamConfig
	m, v [][]float64
	t    int
}

func NewAdam(cfg AdamConfig) *Adam {
	return &Adam{cfg: cfg}
}

// Steps is the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

// Step applies one bias-corrected Adam update with learning rate lr.
func (a *Adam) Step(params *model.Params, grads model.Gradients, lr float64) error {
	all := params.All()
	if len(grads) != len(all) {
		return errors.Errorf("adam: %d gradients for %d parameters", len(grads), len(all))
	}
	if a.m == nil {
		a.m = make([][]float64, len(all))
		a.v = make([][]float64, len(all))
		for i, p := range all {
			a.m[i] = make([]float64, len(p.Data()))
			a.v[i] = make([]float64, len(p.Data()))
		}
	}
	a.t++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	b1t := 1 - math.Pow(b1, float64(a.t))
	b2t := 1 - math.Pow(b2, float64(a.t))

	for i, p := range all {
		w, g, m, v := p.Data(), grads[i], a.m[i], a.v[i]
		if len(g) != len(w) {
			return errors.Errorf("adam: gradient of %s has %d values, want %d", p.Name, len(g), len(w))
		}
		floats.Scale(b1, m)
		floats.AddScaled(m, 1-b1, g)
		for j, gj := range g {
			v[j] = b2*v[j] + (1-b2)*gj*gj
			mh := m[j] / b1t
			vh := v[j] / b2t
			w[j] -= lr * mh / (math.Sqrt(vh) + a.cfg.Eps)
		}
	}
	return nil
}
