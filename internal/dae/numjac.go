package dae

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// NumJac wraps a residual into a forward-difference Jacobian pair for
// systems without analytic Jacobians. The perturbation per column is
// sqrt(eps) * max(1, |v_j|).
func NumJac(fun ResidualFunc, n int) JacobianFunc {
	sqrtEps := math.Sqrt(eps)
	f0 := make([]float64, n)
	f1 := make([]float64, n)
	pert := make([]float64, n)

	return func(t float64, y, yp []float64) (jy, jyp *mat.Dense) {
		jy = mat.NewDense(n, n, nil)
		jyp = mat.NewDense(n, n, nil)
		fun(t, y, yp, f0)

		copy(pert, y)
		for j := 0; j < n; j++ {
			dv := sqrtEps * math.Max(1, math.Abs(y[j]))
			pert[j] = y[j] + dv
			fun(t, pert, yp, f1)
			pert[j] = y[j]
			for i := 0; i < n; i++ {
				jy.Set(i, j, (f1[i]-f0[i])/dv)
			}
		}

		copy(pert, yp)
		for j := 0; j < n; j++ {
			dv := sqrtEps * math.Max(1, math.Abs(yp[j]))
			pert[j] = yp[j] + dv
			fun(t, y, pert, f1)
			pert[j] = yp[j]
			for i := 0; i < n; i++ {
				jyp.Set(i, j, (f1[i]-f0[i])/dv)
			}
		}
		return jy, jyp
	}
}
