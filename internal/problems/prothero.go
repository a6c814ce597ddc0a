package problems

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Prothero is the Prothero-Robinson equation
//
//	y' = -lambda (y - cos t) - sin t
//
// whose exact solution cos t is independent of the stiffness lambda.
// It exposes order reduction and the stiff behavior of embedded error
// estimates.
type Prothero struct {
	lambda float64
}

func NewProthero() *Prothero {
	return &Prothero{lambda: 1000}
}

func (p *Prothero) Name() string { return "prothero" }
func (p *Prothero) Dim() int     { return 1 }

func (p *Prothero) Residual(t float64, y, yp, f []float64) {
	f[0] = yp[0] + p.lambda*(y[0]-math.Cos(t)) + math.Sin(t)
}

func (p *Prothero) Jacobians(_ float64, _, _ []float64) (jy, jyp *mat.Dense) {
	jy = mat.NewDense(1, 1, []float64{p.lambda})
	jyp = mat.NewDense(1, 1, []float64{1})
	return jy, jyp
}

func (p *Prothero) Initial() (y0, yp0 []float64) {
	return []float64{1}, []float64{0}
}

func (p *Prothero) Span() (t0, tBound float64) { return 0, 10 }

func (p *Prothero) Exact(t float64) []float64 {
	return []float64{math.Cos(t)}
}

func (p *Prothero) Describe() string {
	return "stiff Prothero-Robinson equation with exact solution cos t"
}
