package train

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"tinylm/model"
)

// ClipGradNorm rescales grads in place so that their total L2 norm, taken
// across every parameter, is at most maxNorm. It returns the norm before clipping.
func ClipGradNorm(grads model.Gradients, maxNorm float64) float64 {
	var sq float64
	for _, g := range grads {
		sq += floats.Dot(g, g)
	}
	total := math.Sqrt(sq)
	coef := maxNorm / (total + 1e-6)
	if coef < 1 {
		for _, g := range grads {
			floats.Scale(coef, g)
		}
	}
	return total
}
