package dae

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestDecayAccuracy(t *testing.T) {
	opts := DefaultOptions()
	opts.Rtol = 1e-8
	opts.Atol = 1e-8

	res, err := Solve(context.Background(), decayResidual, nil, 0, []float64{1}, []float64{-1}, 1, opts)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	last := res.Len() - 1
	if res.T[last] != 1 {
		t.Fatalf("final time %g, want 1", res.T[last])
	}
	want := math.Exp(-1)
	if got := res.Y[last][0]; math.Abs(got-want) > 1e-6 {
		t.Errorf("y(1) = %.12g, want %.12g", got, want)
	}
	if res.Stats.Steps != last {
		t.Errorf("stats report %d steps, mesh has %d", res.Stats.Steps, last)
	}
}

func TestDecayBackwardIntegration(t *testing.T) {
	opts := DefaultOptions()
	opts.Rtol = 1e-8
	opts.Atol = 1e-8

	y1 := math.Exp(-1)
	res, err := Solve(context.Background(), decayResidual, nil, 1, []float64{y1}, []float64{-y1}, 0, opts)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	last := res.Len() - 1
	if res.T[last] != 0 {
		t.Fatalf("final time %g, want 0", res.T[last])
	}
	if got := res.Y[last][0]; math.Abs(got-1) > 1e-6 {
		t.Errorf("y(0) = %.12g, want 1", got)
	}
}

func protheroResidual(t float64, y, yp, f []float64) {
	f[0] = yp[0] + 1000*(y[0]-math.Cos(t)) + math.Sin(t)
}

func protheroJacobians(_ float64, _, _ []float64) (jy, jyp *mat.Dense) {
	return mat.NewDense(1, 1, []float64{1000}), mat.NewDense(1, 1, []float64{1})
}

func TestStiffProthero(t *testing.T) {
	opts := DefaultOptions()
	opts.Rtol = 1e-6
	opts.Atol = 1e-8

	res, err := Solve(context.Background(), protheroResidual, protheroJacobians,
		0, []float64{1}, []float64{0}, 10, opts)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	last := res.Len() - 1
	want := math.Cos(10.0)
	if got := res.Y[last][0]; math.Abs(got-want) > 1e-4 {
		t.Errorf("y(10) = %.10g, want %.10g", got, want)
	}
	// Stiffness must not blow up the mesh; a few hundred steps suffice
	// at this tolerance.
	if res.Stats.Steps > 2000 {
		t.Errorf("took %d steps, expected far fewer", res.Stats.Steps)
	}
}

func TestAcceptedErrorWithinTolerance(t *testing.T) {
	opts := DefaultOptions()
	sv, err := NewSolver(protheroResidual, protheroJacobians, 0, []float64{1}, []float64{0}, 1, opts)
	if err != nil {
		t.Fatalf("NewSolver failed: %v", err)
	}
	for sv.T() < 1 {
		if err := sv.Step(); err != nil {
			t.Fatalf("Step failed at t=%g: %v", sv.T(), err)
		}
		// Every accepted step leaves the normalized error at or below 1.
		if sv.errNormOld > 1 {
			t.Fatalf("accepted step at t=%g with error norm %g", sv.T(), sv.errNormOld)
		}
	}
}

func TestTooSmallStep(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxStep = 1e-30

	_, err := Solve(context.Background(), decayResidual, nil, 1, []float64{1}, []float64{-1}, 2, opts)
	if !errors.Is(err, ErrTooSmallStep) {
		t.Fatalf("err = %v, want ErrTooSmallStep", err)
	}
}

func TestInitialStepRespondsToCurvature(t *testing.T) {
	// Two linear problems with the same scaled derivative ratio but very
	// different curvature: the Euler trial step must shrink the first
	// step for the fast one.
	mild := decayResidual
	fast := func(_ float64, y, yp, f []float64) {
		f[0] = yp[0] + 1000*y[0]
	}

	opts := DefaultOptions()
	opts.Rtol = 1e-6
	opts.Atol = 1e-6

	svMild, err := NewSolver(mild, nil, 0, []float64{1}, []float64{-1}, 1, opts)
	if err != nil {
		t.Fatalf("NewSolver failed: %v", err)
	}
	svFast, err := NewSolver(fast, nil, 0, []float64{1}, []float64{-1000}, 1, opts)
	if err != nil {
		t.Fatalf("NewSolver failed: %v", err)
	}

	hMild, hFast := svMild.StepSize(), svFast.StepSize()
	if hMild <= 0 || hMild > 1 {
		t.Fatalf("mild first step = %g, want in (0,1]", hMild)
	}
	if hFast >= hMild {
		t.Errorf("fast-problem first step %g not below mild-problem %g", hFast, hMild)
	}
}

func TestJacobianRefreshOnStiffNonlinear(t *testing.T) {
	// Stiff van der Pol in Lienard scaling; a single initial Jacobian
	// cannot carry the whole integration.
	const eps = 1e-3
	fun := func(_ float64, y, yp, f []float64) {
		f[0] = yp[0] - y[1]
		f[1] = eps*yp[1] - (1-y[0]*y[0])*y[1] + y[0]
	}
	calls := 0
	jac := func(_ float64, y, _ []float64) (jy, jyp *mat.Dense) {
		calls++
		jy = mat.NewDense(2, 2, []float64{
			0, -1,
			2*y[0]*y[1] + 1, -(1 - y[0]*y[0]),
		})
		jyp = mat.NewDense(2, 2, []float64{1, 0, 0, eps})
		return jy, jyp
	}

	opts := DefaultOptions()
	opts.Rtol = 1e-6
	opts.Atol = 1e-8
	opts.JacRecomputeRate = 1e-9

	res, err := Solve(context.Background(), fun, jac, 0, []float64{2, 0}, []float64{0, -2 / eps}, 1, opts)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if calls < 2 {
		t.Errorf("jacobian evaluated %d times, expected refreshes beyond the initial one", calls)
	}
	if res.Stats.JacobianEvals != calls {
		t.Errorf("stats report %d jacobian evals, counted %d", res.Stats.JacobianEvals, calls)
	}
}

func TestIncrementsStrategyAccuracy(t *testing.T) {
	opts := DefaultOptions()
	opts.Unknowns = UnknownIncrements
	opts.Rtol = 1e-8
	opts.Atol = 1e-8

	res, err := Solve(context.Background(), decayResidual, nil, 0, []float64{1}, []float64{-1}, 1, opts)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	last := res.Len() - 1
	if got, want := res.Y[last][0], math.Exp(-1); math.Abs(got-want) > 1e-6 {
		t.Errorf("y(1) = %.12g, want %.12g", got, want)
	}
}

func TestEmbeddedEstimateVariants(t *testing.T) {
	cases := []struct {
		name     string
		embedded int
		unknowns Unknowns
	}{
		{"explicit-limit", 0, UnknownDerivatives},
		{"one-iteration", 1, UnknownDerivatives},
		{"refined", 3, UnknownIncrements},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.NewtonIterEmbedded = tc.embedded
			opts.Unknowns = tc.unknowns
			opts.Rtol = 1e-6
			opts.Atol = 1e-8

			res, err := Solve(context.Background(), decayResidual, nil, 0, []float64{1}, []float64{-1}, 1, opts)
			if err != nil {
				t.Fatalf("Solve failed: %v", err)
			}
			last := res.Len() - 1
			if got, want := res.Y[last][0], math.Exp(-1); math.Abs(got-want) > 1e-4 {
				t.Errorf("y(1) = %.12g, want %.12g", got, want)
			}
		})
	}
}

func TestContinuousErrorWeight(t *testing.T) {
	opts := DefaultOptions()
	opts.ContinuousErrorWeight = 1
	opts.Rtol = 1e-6
	opts.Atol = 1e-8

	res, err := Solve(context.Background(), decayResidual, nil, 0, []float64{1}, []float64{-1}, 1, opts)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	last := res.Len() - 1
	if got, want := res.Y[last][0], math.Exp(-1); math.Abs(got-want) > 1e-4 {
		t.Errorf("y(1) = %.12g, want %.12g", got, want)
	}
}

func TestRobertsonDAE(t *testing.T) {
	k1, k2, k3 := 0.04, 3e7, 1e4
	fun := func(_ float64, y, yp, f []float64) {
		f[0] = yp[0] + k1*y[0] - k3*y[1]*y[2]
		f[1] = yp[1] - k1*y[0] + k2*y[1]*y[1] + k3*y[1]*y[2]
		f[2] = y[0] + y[1] + y[2] - 1
	}
	jac := func(_ float64, y, _ []float64) (jy, jyp *mat.Dense) {
		jy = mat.NewDense(3, 3, []float64{
			k1, -k3 * y[2], -k3 * y[1],
			-k1, 2*k2*y[1] + k3*y[2], k3 * y[1],
			1, 1, 1,
		})
		jyp = mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 0, 0,
		})
		return jy, jyp
	}

	opts := DefaultOptions()
	opts.Rtol = 1e-6
	opts.Atol = 1e-8

	res, err := Solve(context.Background(), fun, jac, 0, []float64{1, 0, 0}, []float64{-k1, k1, 0}, 10, opts)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}

	// Mass conservation is an algebraic invariant of the system.
	for i := 0; i < res.Len(); i++ {
		total := res.Y[i][0] + res.Y[i][1] + res.Y[i][2]
		if math.Abs(total-1) > 1e-6 {
			t.Errorf("t=%g: mass total %g drifted from 1", res.T[i], total)
		}
	}
	last := res.Len() - 1
	if res.Y[last][0] >= 1 || res.Y[last][2] <= 0 {
		t.Errorf("kinetics did not progress: y = %v", res.Y[last])
	}
}

func TestSolveContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Solve(ctx, decayResidual, nil, 0, []float64{1}, []float64{-1}, 1, DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil || res.Len() != 1 {
		t.Fatalf("expected the initial point in the partial result")
	}
}

func TestOptionsValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Options)
		want   error
	}{
		{"odd stages", func(o *Options) { o.Stages = 3 }, ErrInvalidOptions},
		{"zero stages", func(o *Options) { o.Stages = 0 }, ErrInvalidOptions},
		{"bad rtol", func(o *Options) { o.Rtol = 0 }, ErrInvalidOptions},
		{"negative atol", func(o *Options) { o.Atol = -1 }, ErrInvalidOptions},
		{"bad weight", func(o *Options) { o.ContinuousErrorWeight = 1.5 }, ErrInvalidOptions},
		{"bad recompute rate", func(o *Options) { o.JacRecomputeRate = 1 }, ErrInvalidOptions},
		{"inverted deadband", func(o *Options) { o.Deadband = [2]float64{1.3, 1.1} }, ErrInvalidOptions},
		{"refined embedded with derivatives", func(o *Options) {
			o.NewtonIterEmbedded = 2
			o.Unknowns = UnknownDerivatives
		}, ErrUnsupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			tc.mutate(&opts)
			_, err := NewSolver(decayResidual, nil, 0, []float64{1}, []float64{-1}, 1, opts)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNumJacMatchesAnalytic(t *testing.T) {
	fun := func(_ float64, y, yp, f []float64) {
		f[0] = yp[0] + 2*y[0] + y[1]*y[1]
		f[1] = 3*yp[1] - y[0]
	}
	jac := NumJac(fun, 2)

	y := []float64{1.5, -0.5}
	yp := []float64{0.2, 0.7}
	jy, jyp := jac(0, y, yp)

	wantJy := [][]float64{{2, 2 * y[1]}, {-1, 0}}
	wantJyp := [][]float64{{1, 0}, {0, 3}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(jy.At(i, j)-wantJy[i][j]) > 1e-6 {
				t.Errorf("jy[%d][%d] = %g, want %g", i, j, jy.At(i, j), wantJy[i][j])
			}
			if math.Abs(jyp.At(i, j)-wantJyp[i][j]) > 1e-6 {
				t.Errorf("jyp[%d][%d] = %g, want %g", i, j, jyp.At(i, j), wantJyp[i][j])
			}
		}
	}
}
