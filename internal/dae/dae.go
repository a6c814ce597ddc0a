// Package dae advances implicit differential-algebraic systems
// F(t, y, y') = 0 one adaptive step at a time with a Radau IIA
// collocation method of order 2s-1. Each accepted step also produces a
// continuous interpolant over the step interval.
package dae

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// eps is the double-precision machine epsilon.
const eps = 2.220446049250313e-16

// ResidualFunc evaluates the implicit system residual F(t, y, yp) into
// f. It must produce finite values for the Newton iteration to converge;
// non-finite output is treated as local divergence, not an error.
type ResidualFunc func(t float64, y, yp, f []float64)

// JacobianFunc returns the Jacobian pair (dF/dy, dF/dyp) at a point. A
// constant-Jacobian system can return the same matrices every call.
type JacobianFunc func(t float64, y, yp []float64) (jy, jyp *mat.Dense)

// Unknowns selects which quantities the collocation solver treats as
// primary: the per-stage state increments or the stage derivatives. The
// two strategies are interchangeable except where noted on Options.
type Unknowns int

const (
	UnknownIncrements Unknowns = iota
	UnknownDerivatives
)

func (u Unknowns) String() string {
	switch u {
	case UnknownIncrements:
		return "increments"
	case UnknownDerivatives:
		return "derivatives"
	default:
		return fmt.Sprintf("Unknowns(%d)", int(u))
	}
}

// Options configures a Solver. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	// Stages is the stage count s of the Radau IIA method, order 2s-1.
	//
	// Validation requires an even value, preserving the behavior of the
	// reference implementation, even though the Radau IIA derivation and
	// its eigenstructure guarantees are stated for odd stage counts. The
	// derived tableau is well defined either way; see the tableau
	// package for the odd-count properties.
	Stages int

	// Rtol and Atol are the relative and absolute error tolerances. The
	// local error estimate is kept below atol + rtol*|y| componentwise.
	Rtol float64
	Atol float64

	// MaxStep bounds the step magnitude; zero means unbounded.
	MaxStep float64

	// FirstStep is the initial step magnitude; zero lets the solver
	// choose.
	FirstStep float64

	// NewtonMaxIter caps the simplified-Newton iterations per attempt;
	// zero selects 15 + 2.5*(s-4) as in the reference radaup code.
	NewtonMaxIter int

	// NewtonIterEmbedded selects the embedded error estimate: 0 uses the
	// closed-form explicit-limit formula, 1 a single linear correction,
	// and >=2 a short fixed-point refinement. The refinement is only
	// defined for UnknownIncrements.
	NewtonIterEmbedded int

	// ContinuousErrorWeight in [0,1] mixes the continuous collocation
	// error (weight w) with the embedded error (weight 1-w).
	ContinuousErrorWeight float64

	// JacRecomputeRate in (0,1): after an accepted step that needed more
	// than two Newton iterations, a convergence rate above this
	// threshold schedules a Jacobian recompute.
	JacRecomputeRate float64

	// Deadband is the [low, high] factor band within which the step size
	// is left unchanged and factorizations are kept.
	Deadband [2]float64

	// Unknowns selects the collocation solver strategy.
	Unknowns Unknowns
}

// DefaultOptions mirrors the reference implementation's defaults.
func DefaultOptions() Options {
	return Options{
		Stages:                4,
		Rtol:                  1e-3,
		Atol:                  1e-6,
		NewtonIterEmbedded:    1,
		ContinuousErrorWeight: 0,
		JacRecomputeRate:      1e-3,
		Deadband:              [2]float64{1.0, 1.2},
		Unknowns:              UnknownDerivatives,
	}
}

// withDefaults fills derived defaults without touching validation.
func (o Options) withDefaults() Options {
	if o.MaxStep <= 0 {
		o.MaxStep = math.Inf(1)
	}
	if o.NewtonMaxIter == 0 {
		o.NewtonMaxIter = 15 + int(2.5*float64(o.Stages-4))
	}
	return o
}

// Validate reports the first construction-time violation.
func (o Options) Validate() error {
	if o.Stages < 2 || o.Stages%2 != 0 {
		return fmt.Errorf("%w: stage count must be a positive even number, got %d", ErrInvalidOptions, o.Stages)
	}
	if o.Rtol <= 0 {
		return fmt.Errorf("%w: rtol must be positive, got %g", ErrInvalidOptions, o.Rtol)
	}
	if o.Atol < 0 {
		return fmt.Errorf("%w: atol must be non-negative, got %g", ErrInvalidOptions, o.Atol)
	}
	if o.MaxStep <= 0 {
		return fmt.Errorf("%w: max step must be positive, got %g", ErrInvalidOptions, o.MaxStep)
	}
	if o.FirstStep < 0 {
		return fmt.Errorf("%w: first step must be non-negative, got %g", ErrInvalidOptions, o.FirstStep)
	}
	if o.NewtonMaxIter < 1 {
		return fmt.Errorf("%w: newton iteration budget must be >= 1, got %d", ErrInvalidOptions, o.NewtonMaxIter)
	}
	if o.NewtonIterEmbedded < 0 {
		return fmt.Errorf("%w: embedded newton iterations must be >= 0, got %d", ErrInvalidOptions, o.NewtonIterEmbedded)
	}
	if o.ContinuousErrorWeight < 0 || o.ContinuousErrorWeight > 1 {
		return fmt.Errorf("%w: continuous error weight must be in [0,1], got %g", ErrInvalidOptions, o.ContinuousErrorWeight)
	}
	if o.JacRecomputeRate <= 0 || o.JacRecomputeRate >= 1 {
		return fmt.Errorf("%w: jacobian recompute rate must be in (0,1), got %g", ErrInvalidOptions, o.JacRecomputeRate)
	}
	if o.Deadband[0] <= 0 || o.Deadband[0] > o.Deadband[1] {
		return fmt.Errorf("%w: deadband must satisfy 0 < low <= high, got [%g,%g]", ErrInvalidOptions, o.Deadband[0], o.Deadband[1])
	}
	if o.Unknowns != UnknownIncrements && o.Unknowns != UnknownDerivatives {
		return fmt.Errorf("%w: unknown solver strategy %d", ErrInvalidOptions, int(o.Unknowns))
	}
	if o.NewtonIterEmbedded >= 2 && o.Unknowns == UnknownDerivatives {
		return fmt.Errorf("%w: embedded iterations = %d", ErrUnsupported, o.NewtonIterEmbedded)
	}
	return nil
}

// Stats counts the work performed by a solver instance.
type Stats struct {
	Steps          int // accepted steps
	Rejected       int // attempts rejected by the error estimate
	ResidualEvals  int
	JacobianEvals  int
	Factorizations int
}
