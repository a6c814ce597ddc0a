package dae

import "context"

// defaultMaxSteps bounds a single Solve call so a stalled controller
// cannot spin forever.
const defaultMaxSteps = 1000000

// Result collects the accepted mesh of one integration.
type Result struct {
	T     []float64
	Y, Yp [][]float64
	Stats Stats
}

// At returns the mesh point index i as (t, y, yp).
func (r *Result) At(i int) (float64, []float64, []float64) {
	return r.T[i], r.Y[i], r.Yp[i]
}

// Len returns the number of accepted mesh points, the initial point
// included.
func (r *Result) Len() int { return len(r.T) }

// Solve integrates F(t, y, y') = 0 from t0 to tBound and returns every
// accepted step. The context is checked between steps; cancellation
// returns the partial result alongside ctx.Err().
func Solve(ctx context.Context, fun ResidualFunc, jac JacobianFunc, t0 float64, y0, yp0 []float64, tBound float64, opts Options) (*Result, error) {
	sv, err := NewSolver(fun, jac, t0, y0, yp0, tBound, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{
		T:  []float64{t0},
		Y:  [][]float64{append([]float64(nil), y0...)},
		Yp: [][]float64{append([]float64(nil), yp0...)},
	}

	steps := 0
	for sv.direction*(sv.t-sv.tBound) < 0 {
		select {
		case <-ctx.Done():
			res.Stats = sv.Stats()
			return res, ctx.Err()
		default:
		}

		if steps >= defaultMaxSteps {
			res.Stats = sv.Stats()
			return res, ErrMaxSteps
		}
		if err := sv.Step(); err != nil {
			res.Stats = sv.Stats()
			return res, err
		}
		steps++

		res.T = append(res.T, sv.T())
		res.Y = append(res.Y, append([]float64(nil), sv.Y()...))
		res.Yp = append(res.Yp, append([]float64(nil), sv.Yp()...))
	}

	res.Stats = sv.Stats()
	return res, nil
}
