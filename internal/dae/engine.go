package dae

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/radau/internal/tableau"
)

// Solver advances one implicit system step by step. It owns the method
// coefficients, the cached Jacobian pair and stage factorizations, and
// the interpolant of the most recent accepted step.
type Solver struct {
	opts Options
	coef *tableau.Coefficients
	fun  ResidualFunc
	jac  JacobianFunc
	n    int

	t, tOld   float64
	tBound    float64
	direction float64

	y, yp       []float64
	yOld, ypOld []float64

	hAbs       float64
	hAbsOld    float64 // NaN until a step has been accepted
	errNormOld float64 // NaN until a step has been accepted

	newtonTol  float64
	jy, jyp    *mat.Dense
	currentJac bool
	lus        []*mat.LU

	sol   *DenseOutput
	stats Stats
}

// NewSolver validates the configuration, derives the method
// coefficients and evaluates the Jacobian pair at the initial point. A
// nil jac falls back to forward differences.
func NewSolver(fun ResidualFunc, jac JacobianFunc, t0 float64, y0, yp0 []float64, tBound float64, opts Options) (*Solver, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(y0) == 0 || len(y0) != len(yp0) {
		return nil, fmt.Errorf("%w: state and derivative must be non-empty and of equal length, got %d and %d",
			ErrInvalidOptions, len(y0), len(yp0))
	}

	coef, err := tableau.Compute(opts.Stages)
	if err != nil {
		return nil, err
	}

	n := len(y0)
	if jac == nil {
		jac = NumJac(fun, n)
	}

	direction := 1.0
	if tBound < t0 {
		direction = -1.0
	}

	// Newton tolerance as in radau.f: tighter than rtol by the
	// superconvergence exponent 2s/(s+1), floored near machine accuracy.
	expmi := 2 * float64(opts.Stages) / float64(opts.Stages+1)
	newtonTol := math.Max(10*eps/opts.Rtol, math.Min(0.03, math.Pow(opts.Rtol, expmi-1)))

	sv := &Solver{
		opts:       opts,
		coef:       coef,
		fun:        fun,
		jac:        jac,
		n:          n,
		t:          t0,
		tOld:       t0,
		tBound:     tBound,
		direction:  direction,
		y:          append([]float64(nil), y0...),
		yp:         append([]float64(nil), yp0...),
		hAbsOld:    math.NaN(),
		errNormOld: math.NaN(),
		newtonTol:  newtonTol,
		currentJac: true,
	}

	if opts.FirstStep > 0 {
		sv.hAbs = math.Min(opts.FirstStep, math.Min(math.Abs(tBound-t0), opts.MaxStep))
	} else {
		sv.hAbs = sv.selectInitialStep()
	}

	sv.jy, sv.jyp = jac(t0, sv.y, sv.yp)
	sv.stats.JacobianEvals++
	return sv, nil
}

// selectInitialStep picks a first step as in Hairer/Wanner II.4: a crude
// magnitude ratio of state and derivative, refined by an explicit Euler
// trial step whose residual bounds the second derivative.
func (sv *Solver) selectInitialStep() float64 {
	span := math.Abs(sv.tBound - sv.t)
	if span == 0 {
		return 1e-6
	}

	n := sv.n
	scale := make([]float64, n)
	d0sq, d1sq := 0.0, 0.0
	for i := 0; i < n; i++ {
		scale[i] = sv.opts.Atol + sv.opts.Rtol*math.Abs(sv.y[i])
		r0 := sv.y[i] / scale[i]
		r1 := sv.yp[i] / scale[i]
		d0sq += r0 * r0
		d1sq += r1 * r1
	}
	d0 := math.Sqrt(d0sq / float64(n))
	d1 := math.Sqrt(d1sq / float64(n))

	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	h0 = math.Min(h0, math.Min(span, sv.opts.MaxStep))

	// The residual of an Euler trial step, evaluated with the unchanged
	// initial derivative, grows with the second derivative of the
	// solution.
	y1 := make([]float64, n)
	for i := 0; i < n; i++ {
		y1[i] = sv.y[i] + h0*sv.direction*sv.yp[i]
	}
	f := make([]float64, n)
	sv.fun(sv.t+h0*sv.direction, y1, sv.yp, f)
	sv.stats.ResidualEvals++

	d2sq := 0.0
	for i := 0; i < n; i++ {
		r := f[i] / scale[i]
		d2sq += r * r
	}
	d2 := math.Sqrt(d2sq/float64(n)) / h0

	h1 := math.Max(1e-6, h0*1e-3)
	if der := math.Max(d1, d2); der > 1e-15 {
		h1 = math.Pow(0.01/der, 1/float64(sv.opts.Stages+1))
	}
	return math.Min(100*h0, math.Min(h1, math.Min(span, sv.opts.MaxStep)))
}

// stepPhase names the states of the per-attempt machine: the three
// adaptation levels (step shrink on rejection, Jacobian refresh and
// step halving inside the solve, terminal underflow) each get an
// explicit transition instead of sharing one nested loop.
type stepPhase int

const (
	phasePredict stepPhase = iota
	phaseSolve
	phaseEstimate
	phaseRejectShrink
	phaseAccept
	phaseTooSmall
)

func (p stepPhase) String() string {
	switch p {
	case phasePredict:
		return "predicting-guess"
	case phaseSolve:
		return "solving-collocation"
	case phaseEstimate:
		return "evaluating-error"
	case phaseRejectShrink:
		return "reject-shrink"
	case phaseAccept:
		return "accept"
	case phaseTooSmall:
		return "reject-too-small"
	default:
		return fmt.Sprintf("stepPhase(%d)", int(p))
	}
}

// stepAttempt carries the mutable state threaded through the phases of
// one Step call. Nothing here touches the solver until acceptance.
type stepAttempt struct {
	minStep    float64
	hAbs       float64
	hAbsOld    float64 // controller history, NaN when reset
	errNormOld float64
	scale      []float64 // Newton scale, fixed at the step start

	h, tNew    float64
	lus        []*mat.LU
	currentJac bool

	res     stageResult
	errNorm float64
	safety  float64
	factor  float64 // sticky across rejections, NaN until first set

	yNew, ypNew []float64
}

// Step advances the solution by one accepted step, retrying internally
// with refreshed Jacobians and reduced step sizes as needed. On success
// the solver time, state, derivative and interpolant are updated. It
// returns ErrTooSmallStep when the required step underflows the time
// resolution at the current point.
func (sv *Solver) Step() error {
	at := sv.beginAttempt()

	phase := phasePredict
	for {
		switch phase {
		case phasePredict:
			phase = sv.predict(at)
		case phaseSolve:
			phase = sv.solveStages(at)
		case phaseEstimate:
			phase = sv.estimateError(at)
		case phaseRejectShrink:
			phase = sv.rejectShrink(at)
		case phaseAccept:
			sv.accept(at)
			return nil
		case phaseTooSmall:
			return ErrTooSmallStep
		}
	}
}

// beginAttempt snapshots the persisted step state. Clamping the
// persisted step resets the two-step controller history, falling back
// to the elementary rule for this step.
func (sv *Solver) beginAttempt() *stepAttempt {
	minStep := 10 * math.Abs(math.Nextafter(sv.t, sv.direction*math.Inf(1))-sv.t)

	at := &stepAttempt{
		minStep:    minStep,
		hAbs:       sv.hAbs,
		hAbsOld:    sv.hAbsOld,
		errNormOld: sv.errNormOld,
		lus:        sv.lus,
		currentJac: sv.currentJac,
		factor:     math.NaN(),
	}
	if sv.hAbs > sv.opts.MaxStep {
		at.hAbs = sv.opts.MaxStep
		at.hAbsOld = math.NaN()
		at.errNormOld = math.NaN()
	} else if sv.hAbs < minStep {
		at.hAbs = minStep
		at.hAbsOld = math.NaN()
		at.errNormOld = math.NaN()
	}

	at.scale = make([]float64, sv.n)
	for i := range at.scale {
		at.scale[i] = sv.opts.Atol + math.Abs(sv.y[i])*sv.opts.Rtol
	}
	return at
}

// predict bounds the step at the horizon and prepares the attempt; the
// stage guess itself is produced in solveStages from the interpolant.
func (sv *Solver) predict(at *stepAttempt) stepPhase {
	if at.hAbs < at.minStep {
		return phaseTooSmall
	}

	at.h = at.hAbs * sv.direction
	at.tNew = sv.t + at.h
	if sv.direction*(at.tNew-sv.tBound) > 0 {
		at.tNew = sv.tBound
	}
	at.h = at.tNew - sv.t
	at.hAbs = math.Abs(at.h)
	return phaseSolve
}

// solveStages runs the collocation solver, refreshing the Jacobian once
// on a stale non-convergence and halving the step on a fresh one.
func (sv *Solver) solveStages(at *stepAttempt) stepPhase {
	guess := sv.stageGuess(sv.t, at.h)

	for {
		if at.lus == nil {
			at.lus = sv.factorize(at.h)
		}
		sys := &stageSystem{
			fun:     sv.fun,
			coef:    sv.coef,
			t:       sv.t,
			h:       at.h,
			y:       sv.y,
			scale:   at.scale,
			tol:     sv.newtonTol,
			lus:     at.lus,
			maxIter: sv.opts.NewtonMaxIter,
			stats:   &sv.stats,
		}
		if sv.opts.Unknowns == UnknownDerivatives {
			at.res = sys.solveDerivatives(guess)
		} else {
			at.res = sys.solveIncrements(guess)
		}
		if at.res.converged {
			return phaseEstimate
		}

		if at.currentJac {
			at.hAbs *= 0.5
			at.lus = nil
			return phasePredict
		}
		sv.jy, sv.jyp = sv.jac(sv.t, sv.y, sv.yp)
		sv.stats.JacobianEvals++
		at.currentJac = true
		at.lus = nil
	}
}

// estimateError computes the mixed error norm and the iteration-count
// safety factor and decides acceptance.
func (sv *Solver) estimateError(at *stepAttempt) stepPhase {
	s := sv.opts.Stages
	at.yNew = at.res.Y[s-1]
	at.ypNew = at.res.Yp[s-1]

	at.errNorm = sv.errorNorm(at.tNew, at.h, at.yNew, at.res, at.lus)
	at.safety = 0.9 * float64(2*sv.opts.NewtonMaxIter+1) /
		float64(2*sv.opts.NewtonMaxIter+at.res.iterations)

	if at.errNorm > 1 {
		return phaseRejectShrink
	}
	return phaseAccept
}

// rejectShrink shrinks the step after an error rejection. The raw
// controller factor is kept for reuse by accept, matching the original
// behavior of carrying the last rejection's prediction forward.
func (sv *Solver) rejectShrink(at *stepAttempt) stepPhase {
	sv.stats.Rejected++
	at.factor = predictFactor(at.hAbs, at.hAbsOld, at.errNorm, at.errNormOld, sv.opts.Stages)
	at.hAbs *= at.safety * at.factor
	at.lus = nil
	return phasePredict
}

// accept runs the post-acceptance bookkeeping: Jacobian recompute
// policy, next-step factor with deadband hysteresis, state persistence
// and the dense-output rebuild.
func (sv *Solver) accept(at *stepAttempt) {
	// Slow but converged Newton iterations schedule a Jacobian refresh
	// at the accepted point.
	recomputeJac := at.res.iterations > 2 && at.res.hasRate &&
		at.res.rate > sv.opts.JacRecomputeRate

	factor := at.factor
	if math.IsNaN(factor) {
		factor = at.safety * predictFactor(at.hAbs, at.hAbsOld, at.errNorm, at.errNormOld, sv.opts.Stages)
	}
	if !recomputeJac && sv.opts.Deadband[0] <= factor && factor <= sv.opts.Deadband[1] {
		factor = 1
	} else {
		at.lus = nil
	}

	if recomputeJac {
		sv.jy, sv.jyp = sv.jac(at.tNew, at.yNew, at.ypNew)
		sv.stats.JacobianEvals++
		at.currentJac = true
	} else {
		at.currentJac = false
	}

	sv.hAbsOld = sv.hAbs
	sv.errNormOld = at.errNorm
	sv.hAbs = at.hAbs * factor

	sv.yOld = sv.y
	sv.ypOld = sv.yp
	sv.tOld = sv.t
	sv.t = at.tNew
	sv.y = at.yNew
	sv.yp = at.ypNew
	sv.lus = at.lus
	sv.currentJac = at.currentJac
	sv.stats.Steps++

	sv.sol = newDenseOutput(sv.tOld, sv.t, sv.yOld, at.res.Y, sv.coef.P)
}

// stageGuess extrapolates the previous interpolant to the new stage
// times, expressed in the solver's primary unknowns. The first step has
// no interpolant and starts from zero.
func (sv *Solver) stageGuess(t, h float64) [][]float64 {
	s := sv.opts.Stages
	guess := makeStage(s, sv.n)
	if sv.sol == nil {
		return guess
	}
	tmpY := make([]float64, sv.n)
	tmpYp := make([]float64, sv.n)
	for i, c := range sv.coef.C {
		sv.sol.Eval(t+h*c, tmpY, tmpYp)
		if sv.opts.Unknowns == UnknownDerivatives {
			copy(guess[i], tmpYp)
		} else {
			for d := 0; d < sv.n; d++ {
				guess[i][d] = tmpY[d] - sv.y[d]
			}
		}
	}
	return guess
}

// factorize builds the per-stage iteration matrices for step size h and
// factorizes each one. The diagonal similarity of the tableau keeps the
// s systems independent, one real n x n factorization per stage.
func (sv *Solver) factorize(h float64) []*mat.LU {
	lus := make([]*mat.LU, sv.opts.Stages)
	for i, ga := range sv.coef.Gammas {
		var iter mat.Dense
		if sv.opts.Unknowns == UnknownDerivatives {
			iter.Scale(h*ga, sv.jy)
			iter.Add(&iter, sv.jyp)
		} else {
			iter.Scale(1/(h*ga), sv.jyp)
			iter.Add(&iter, sv.jy)
		}
		lu := &mat.LU{}
		lu.Factorize(&iter)
		lus[i] = lu
		sv.stats.Factorizations++
	}
	return lus
}

// errorNorm computes the mixed local error estimate of an attempted
// step: the continuous collocation error blended with the selected
// embedded estimate, measured in the scaled RMS norm.
func (sv *Solver) errorNorm(tNew, h float64, yNew []float64, res stageResult, lus []*mat.LU) float64 {
	s := sv.opts.Stages
	n := sv.n
	y, yp := sv.y, sv.yp
	coef := sv.coef
	gammaLast := coef.Gammas[s-1]

	scale := make([]float64, n)
	for d := 0; d < n; d++ {
		scale[d] = sv.opts.Atol + math.Max(math.Abs(y[d]), math.Abs(yNew[d]))*sv.opts.Rtol
	}

	// Collocation error of the degree-s interpolant evaluated at the
	// step start.
	errColl := make([]float64, n)
	for d := 0; d < n; d++ {
		v := y[d]
		for i := 0; i < s; i++ {
			v -= coef.P2[0][i] * res.Y[i][d]
		}
		errColl[d] = v
	}

	errEmb := make([]float64, n)
	switch {
	case sv.opts.NewtonIterEmbedded == 0:
		// Explicit-limit estimate: no extra residual evaluation, but the
		// stability function is unbounded for stiff components.
		for d := 0; d < n; d++ {
			v2dot := 0.0
			for i := 0; i < s; i++ {
				v2dot += coef.V2[i] * res.Yp[i][d]
			}
			errEmb[d] = h * (yp[d]*gammaLast + v2dot)
		}

	case sv.opts.NewtonIterEmbedded == 1:
		// One linear correction with the last stage factorization; the
		// damping ratio bounds the estimate for stiff components.
		ypHat := make([]float64, n)
		for d := 0; d < n; d++ {
			vdot := 0.0
			for i := 0; i < s; i++ {
				vdot += coef.V[i] * res.Yp[i][d]
			}
			ypHat[d] = (vdot - coef.BHat1*yp[d]) / gammaLast
		}
		f := make([]float64, n)
		sv.fun(tNew, yNew, ypHat, f)
		sv.stats.ResidualEvals++
		sol := sv.solveLast(lus, f)
		if sv.opts.Unknowns == UnknownDerivatives {
			for d := 0; d < n; d++ {
				errEmb[d] = -h * gammaLast * sol[d]
			}
		} else {
			for d := 0; d < n; d++ {
				errEmb[d] = -sol[d]
			}
		}

	default:
		// Fixed-point refinement of the embedded solution; construction
		// rejects this mode unless increments are the primary unknowns.
		yHat := append([]float64(nil), yNew...)
		ypHat := make([]float64, n)
		f := make([]float64, n)
		for it := 0; it < sv.opts.NewtonIterEmbedded; it++ {
			for d := 0; d < n; d++ {
				bdot := 0.0
				for i := 0; i < s; i++ {
					bdot += coef.BHat[i] * res.Yp[i][d]
				}
				ypHat[d] = ((yHat[d]-y[d])/h - coef.BHat1*yp[d] - bdot) / gammaLast
			}
			sv.fun(tNew, yHat, ypHat, f)
			sv.stats.ResidualEvals++
			sol := sv.solveLast(lus, f)
			for d := 0; d < n; d++ {
				yHat[d] -= sol[d]
			}
		}
		for d := 0; d < n; d++ {
			errEmb[d] = yHat[d] - yNew[d]
		}
	}

	expo := float64(s+1) / float64(s)
	w := sv.opts.ContinuousErrorWeight
	mixed := make([]float64, n)
	for d := 0; d < n; d++ {
		mixed[d] = (w*math.Pow(math.Abs(errColl[d]), expo) +
			(1-w)*math.Abs(errEmb[d])) / scale[d]
	}
	return rmsNorm(mixed)
}

// solveLast solves with the factorization of the last stage. A singular
// factorization degrades to a zero correction instead of failing the
// whole step; the controller then judges the uncorrected estimate.
func (sv *Solver) solveLast(lus []*mat.LU, f []float64) []float64 {
	n := sv.n
	rhs := mat.NewVecDense(n, nil)
	for d := 0; d < n; d++ {
		rhs.SetVec(d, f[d])
	}
	var sol mat.VecDense
	if err := lus[len(lus)-1].SolveVecTo(&sol, false, rhs); err != nil {
		return make([]float64, n)
	}
	out := make([]float64, n)
	for d := 0; d < n; d++ {
		out[d] = sol.AtVec(d)
	}
	return out
}

// T returns the current time.
func (sv *Solver) T() float64 { return sv.t }

// TOld returns the start time of the last accepted step.
func (sv *Solver) TOld() float64 { return sv.tOld }

// Y returns the current state. The slice is owned by the solver.
func (sv *Solver) Y() []float64 { return sv.y }

// Yp returns the current derivative. The slice is owned by the solver.
func (sv *Solver) Yp() []float64 { return sv.yp }

// StepSize returns the magnitude the solver will attempt next.
func (sv *Solver) StepSize() float64 { return sv.hAbs }

// Sol returns the interpolant over the last accepted step, or nil
// before the first step.
func (sv *Solver) Sol() *DenseOutput { return sv.sol }

// Stats returns the accumulated work counters.
func (sv *Solver) Stats() Stats { return sv.stats }
