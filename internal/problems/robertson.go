package problems

import "gonum.org/v1/gonum/mat"

// Robertson is the chemical kinetics problem in index-1 DAE form: two
// differential species plus the mass conservation constraint
//
//	y0' = -k1 y0 + k3 y1 y2
//	y1' =  k1 y0 - k2 y1^2 - k3 y1 y2
//	  1 =  y0 + y1 + y2
//
// The singular dF/dy' row exercises the truly implicit solver path.
type Robertson struct {
	k1, k2, k3 float64
}

func NewRobertson() *Robertson {
	return &Robertson{k1: 0.04, k2: 3e7, k3: 1e4}
}

func (r *Robertson) Name() string { return "robertson" }
func (r *Robertson) Dim() int     { return 3 }

func (r *Robertson) Residual(_ float64, y, yp, f []float64) {
	f[0] = yp[0] + r.k1*y[0] - r.k3*y[1]*y[2]
	f[1] = yp[1] - r.k1*y[0] + r.k2*y[1]*y[1] + r.k3*y[1]*y[2]
	f[2] = y[0] + y[1] + y[2] - 1
}

func (r *Robertson) Jacobians(_ float64, y, _ []float64) (jy, jyp *mat.Dense) {
	jy = mat.NewDense(3, 3, []float64{
		r.k1, -r.k3 * y[2], -r.k3 * y[1],
		-r.k1, 2*r.k2*y[1] + r.k3*y[2], r.k3 * y[1],
		1, 1, 1,
	})
	jyp = mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 0,
	})
	return jy, jyp
}

func (r *Robertson) Initial() (y0, yp0 []float64) {
	// yp0 follows from the differential equations at (1, 0, 0); the
	// algebraic variable has no independent derivative.
	return []float64{1, 0, 0}, []float64{-r.k1, r.k1, 0}
}

func (r *Robertson) Span() (t0, tBound float64) { return 0, 100 }

func (r *Robertson) Describe() string {
	return "Robertson chemical kinetics as an index-1 DAE with a conservation constraint"
}
