package problems

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Decay is exponential decay y' = -k y in residual form. With its exact
// solution y0*exp(-k t) it serves as the accuracy baseline.
type Decay struct {
	k float64
}

func NewDecay() *Decay {
	return &Decay{k: 1.0}
}

func (d *Decay) Name() string { return "decay" }
func (d *Decay) Dim() int     { return 1 }

func (d *Decay) Residual(_ float64, y, yp, f []float64) {
	f[0] = yp[0] + d.k*y[0]
}

func (d *Decay) Jacobians(_ float64, _, _ []float64) (jy, jyp *mat.Dense) {
	jy = mat.NewDense(1, 1, []float64{d.k})
	jyp = mat.NewDense(1, 1, []float64{1})
	return jy, jyp
}

func (d *Decay) Initial() (y0, yp0 []float64) {
	return []float64{1}, []float64{-d.k}
}

func (d *Decay) Span() (t0, tBound float64) { return 0, 1 }

func (d *Decay) Exact(t float64) []float64 {
	return []float64{math.Exp(-d.k * t)}
}

func (d *Decay) Describe() string {
	return "linear decay y' = -k y, exact solution exp(-k t)"
}
