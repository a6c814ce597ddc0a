package problems

import "gonum.org/v1/gonum/mat"

// VanDerPol is the stiff van der Pol oscillator in Lienard scaling,
//
//	y0' = y1
//	eps y1' = (1 - y0^2) y1 - y0
//
// written in residual form. Small eps makes the relaxation phases very
// stiff and stresses the Jacobian reuse logic.
type VanDerPol struct {
	eps float64
}

func NewVanDerPol() *VanDerPol {
	return &VanDerPol{eps: 1e-3}
}

func (v *VanDerPol) Name() string { return "vanderpol" }
func (v *VanDerPol) Dim() int     { return 2 }

func (v *VanDerPol) Residual(_ float64, y, yp, f []float64) {
	f[0] = yp[0] - y[1]
	f[1] = v.eps*yp[1] - (1-y[0]*y[0])*y[1] + y[0]
}

func (v *VanDerPol) Jacobians(_ float64, y, _ []float64) (jy, jyp *mat.Dense) {
	jy = mat.NewDense(2, 2, []float64{
		0, -1,
		2*y[0]*y[1] + 1, -(1 - y[0]*y[0]),
	})
	jyp = mat.NewDense(2, 2, []float64{
		1, 0,
		0, v.eps,
	})
	return jy, jyp
}

func (v *VanDerPol) Initial() (y0, yp0 []float64) {
	// Consistent derivative at (2, 0): y0' = 0 and eps y1' = -y0.
	return []float64{2, 0}, []float64{0, -2 / v.eps}
}

func (v *VanDerPol) Span() (t0, tBound float64) { return 0, 2 }

func (v *VanDerPol) Describe() string {
	return "stiff van der Pol oscillator, Lienard scaling with eps = 1e-3"
}
