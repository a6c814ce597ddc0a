package dae

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/radau/internal/tableau"
)

// stageSystem is the per-attempt nonlinear collocation system: s coupled
// copies of the residual, decoupled into independent per-stage linear
// solves through the similarity transform of the tableau.
type stageSystem struct {
	fun     ResidualFunc
	coef    *tableau.Coefficients
	t, h    float64
	y       []float64
	scale   []float64
	tol     float64
	lus     []*mat.LU
	maxIter int
	stats   *Stats
}

// stageResult is the outcome of a simplified-Newton solve. rate is only
// meaningful when hasRate is set (at least two corrections happened).
type stageResult struct {
	converged  bool
	iterations int
	rate       float64
	hasRate    bool
	Y, Yp, Z   [][]float64
}

// solveIncrements runs the simplified-Newton iteration with the stage
// increments Z as primary unknowns. z0 is consumed as the initial guess.
//
// The error operator of this splitting is close to nilpotent: correction
// norms stall at a rate around 0.3, rise briefly, then collapse by
// several orders once per s sweeps. Extrapolating the observed rate
// geometrically (as the derivatives loop does) would abort right before
// the collapse, so divergence is declared only on sustained growth.
func (sys *stageSystem) solveIncrements(z0 [][]float64) stageResult {
	s := sys.coef.Stages
	n := len(sys.y)
	tau := sys.stageTimes()

	z := cloneStage(z0)
	w := makeStage(s, n)
	matStage(w, sys.coef.TI, z, 1)
	yp := makeStage(s, n)
	matStage(yp, sys.coef.AInv, z, 1/sys.h)
	y := makeStage(s, n)
	for i := 0; i < s; i++ {
		for d := 0; d < n; d++ {
			y[i][d] = sys.y[d] + z[i][d]
		}
	}

	f := makeStage(s, n)
	u := makeStage(s, n)
	dw := makeStage(s, n)
	rhs := mat.NewVecDense(n, nil)
	var sol mat.VecDense

	res := stageResult{}
	normOld := math.NaN()
	growing := 0
	for k := 0; k < sys.maxIter; k++ {
		res.iterations = k + 1

		for i := 0; i < s; i++ {
			sys.fun(tau[i], y[i], yp[i], f[i])
		}
		sys.stats.ResidualEvals += s
		if !allFinite(f) {
			break
		}

		matStage(u, sys.coef.TI, f, 1)
		if !sys.blockSolves(u, dw, rhs, &sol) {
			break
		}

		norm := scaledRMS(dw, sys.scale)
		if !math.IsNaN(normOld) {
			res.rate = norm / normOld
			res.hasRate = true
		}
		if res.hasRate && res.rate >= 1 {
			growing++
		} else {
			growing = 0
		}
		if norm > sys.tol && growing >= 2 {
			break
		}

		addStage(w, dw)
		matStage(z, sys.coef.T, w, 1)
		matStage(yp, sys.coef.AInv, z, 1/sys.h)
		for i := 0; i < s; i++ {
			for d := 0; d < n; d++ {
				y[i][d] = sys.y[d] + z[i][d]
			}
		}

		if norm <= sys.tol ||
			(res.hasRate && res.rate < 1 && res.rate/(1-res.rate)*norm < sys.tol) {
			res.converged = true
			break
		}
		normOld = norm
	}

	res.Y, res.Yp, res.Z = y, yp, z
	return res
}

// solveDerivatives runs the iteration with the stage derivatives as
// primary unknowns; the states follow through Y = y + h*A*Yp.
func (sys *stageSystem) solveDerivatives(yp0 [][]float64) stageResult {
	s := sys.coef.Stages
	n := len(sys.y)
	tau := sys.stageTimes()

	yp := cloneStage(yp0)
	y := makeStage(s, n)
	matStage(y, sys.coef.A, yp, sys.h)
	for i := 0; i < s; i++ {
		for d := 0; d < n; d++ {
			y[i][d] += sys.y[d]
		}
	}

	f := makeStage(s, n)
	u := makeStage(s, n)
	dv := makeStage(s, n)
	dyp := makeStage(s, n)
	dy := makeStage(s, n)
	rhs := mat.NewVecDense(n, nil)
	var sol mat.VecDense

	res := stageResult{}
	normOld := math.NaN()
	for k := 0; k < sys.maxIter; k++ {
		res.iterations = k + 1

		for i := 0; i < s; i++ {
			sys.fun(tau[i], y[i], yp[i], f[i])
		}
		sys.stats.ResidualEvals += s
		if !allFinite(f) {
			break
		}

		matStage(u, sys.coef.TI, f, 1)
		if !sys.blockSolves(u, dv, rhs, &sol) {
			break
		}
		matStage(dyp, sys.coef.T, dv, 1)
		matStage(dy, sys.coef.A, dyp, sys.h)

		addStage(yp, dyp)
		addStage(y, dy)

		norm := scaledRMS(dy, sys.scale)
		if !math.IsNaN(normOld) {
			res.rate = norm / normOld
			res.hasRate = true
		}
		if res.hasRate && (res.rate >= 1 ||
			math.Pow(res.rate, float64(sys.maxIter-k))/(1-res.rate)*norm > sys.tol) {
			break
		}

		if norm == 0 || (res.hasRate && res.rate/(1-res.rate)*norm < sys.tol) {
			res.converged = true
			break
		}
		normOld = norm
	}

	z := makeStage(s, n)
	for i := 0; i < s; i++ {
		for d := 0; d < n; d++ {
			z[i][d] = y[i][d] - sys.y[d]
		}
	}
	res.Y, res.Yp, res.Z = y, yp, z
	return res
}

func (sys *stageSystem) stageTimes() []float64 {
	tau := make([]float64, sys.coef.Stages)
	for i, c := range sys.coef.C {
		tau[i] = sys.t + sys.h*c
	}
	return tau
}

// blockSolves computes dst[i] = lus[i]^-1 * (-u[i]) for every stage,
// reporting false when a factorization turns out singular (treated as
// divergence by the callers).
func (sys *stageSystem) blockSolves(u, dst [][]float64, rhs *mat.VecDense, sol *mat.VecDense) bool {
	n := rhs.Len()
	for i := range u {
		for d := 0; d < n; d++ {
			rhs.SetVec(d, -u[i][d])
		}
		if err := sys.lus[i].SolveVecTo(sol, false, rhs); err != nil {
			return false
		}
		for d := 0; d < n; d++ {
			dst[i][d] = sol.AtVec(d)
		}
	}
	return true
}

// matStage computes dst = scale * (m @ src) for an s x s matrix m and
// s x n stage arrays. dst must not alias src.
func matStage(dst [][]float64, m [][]float64, src [][]float64, scale float64) {
	s := len(m)
	n := len(dst[0])
	for i := 0; i < s; i++ {
		row := dst[i]
		for d := 0; d < n; d++ {
			row[d] = 0
		}
		for j := 0; j < s; j++ {
			mij := m[i][j] * scale
			if mij == 0 {
				continue
			}
			srow := src[j]
			for d := 0; d < n; d++ {
				row[d] += mij * srow[d]
			}
		}
	}
}

func addStage(dst, inc [][]float64) {
	for i := range dst {
		for d := range dst[i] {
			dst[i][d] += inc[i][d]
		}
	}
}

func makeStage(s, n int) [][]float64 {
	backing := make([]float64, s*n)
	out := make([][]float64, s)
	for i := range out {
		out[i] = backing[:n]
		backing = backing[n:]
	}
	return out
}

func cloneStage(src [][]float64) [][]float64 {
	out := makeStage(len(src), len(src[0]))
	for i := range src {
		copy(out[i], src[i])
	}
	return out
}
