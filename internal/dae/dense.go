package dae

// DenseOutput is the collocation interpolant over one accepted step. The
// derivative returned by Eval is the analytic derivative of the state
// polynomial, so the (y, yp) pair stays internally consistent even when
// evaluated outside the step interval.
type DenseOutput struct {
	tOld, tNew float64
	h          float64
	order      int
	yOld       []float64
	q          [][]float64 // n x s polynomial coefficients, lowest degree first
}

// newDenseOutput builds the interpolant from the accepted stage values.
// p is the s x s interpolation matrix of the tableau; the coefficient
// rows are Q = Z^T P with Z = Y - yOld.
func newDenseOutput(tOld, tNew float64, yOld []float64, y [][]float64, p [][]float64) *DenseOutput {
	s := len(y)
	n := len(yOld)
	d := &DenseOutput{
		tOld:  tOld,
		tNew:  tNew,
		h:     tNew - tOld,
		order: s - 1,
		yOld:  append([]float64(nil), yOld...),
		q:     makeStage(n, s),
	}
	for dim := 0; dim < n; dim++ {
		for j := 0; j < s; j++ {
			var qy float64
			for i := 0; i < s; i++ {
				qy += (y[i][dim] - yOld[dim]) * p[i][j]
			}
			d.q[dim][j] = qy
		}
	}
	return d
}

// Interval reports the step interval the interpolant was built on.
// Evaluation outside it extrapolates the same polynomial.
func (d *DenseOutput) Interval() (tOld, tNew float64) {
	return d.tOld, d.tNew
}

// Eval writes the interpolated state into y and its time derivative into
// yp at time t. Either destination may be nil to skip it.
func (d *DenseOutput) Eval(t float64, y, yp []float64) {
	x := (t - d.tOld) / d.h
	s := d.order + 1

	// Powers x^1 .. x^s of the normalized offset.
	pow := make([]float64, s)
	acc := 1.0
	for j := 0; j < s; j++ {
		acc *= x
		pow[j] = acc
	}

	if y != nil {
		for dim := range y {
			v := d.yOld[dim]
			for j := 0; j < s; j++ {
				v += d.q[dim][j] * pow[j]
			}
			y[dim] = v
		}
	}
	if yp != nil {
		// d/dt of yOld + sum_j q_j x^(j+1) with x = (t-tOld)/h.
		for dim := range yp {
			v := d.q[dim][0] / d.h
			xp := 1.0
			for j := 1; j < s; j++ {
				xp *= x
				v += float64(j+1) / d.h * d.q[dim][j] * xp
			}
			yp[dim] = v
		}
	}
}

// EvalBatch evaluates the interpolant at each time in ts and returns the
// states and derivatives as len(ts) rows.
func (d *DenseOutput) EvalBatch(ts []float64) (ys, yps [][]float64) {
	n := len(d.yOld)
	ys = makeStage(len(ts), n)
	yps = makeStage(len(ts), n)
	for i, t := range ts {
		d.Eval(t, ys[i], yps[i])
	}
	return ys, yps
}
