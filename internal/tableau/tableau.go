// Package tableau derives the Radau IIA collocation coefficients used by
// the DAE stepper: the Butcher tableau itself, the real block-diagonal
// similarity transform of its triangular splitting, and the embedded and
// interpolation coefficient sets. Everything here is computed once per
// stage count and shared immutably afterwards.
package tableau

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// dampingRatio sets the stiff limit of the implicit embedded error
// estimate. 1.0 recovers Hairer (8.19); de Swart proposes 0.067 for s=3.
const dampingRatio = 0.01

// reconstructTol bounds the entrywise residual of T*Gamma*T^-1 against
// the triangular splitting matrix.
const reconstructTol = 1e-10

var (
	// ErrBadTransform indicates the block-diagonal similarity failed to
	// reconstruct the splitting matrix within tolerance.
	ErrBadTransform = errors.New("tableau: transform does not reconstruct the splitting matrix")

	// ErrComplexBlock indicates a conjugate eigenvalue pair in the
	// splitting matrix. The Crout lower factor of a Radau matrix is
	// triangular with a real diagonal, so this only fires for input the
	// stepper was never designed for.
	ErrComplexBlock = errors.New("tableau: splitting matrix has a conjugate eigenvalue pair")
)

// Coefficients holds every derived constant for an s-stage Radau IIA
// method. Instances are shared by reference between the collocation
// solver and the dense-output builder and must not be mutated.
type Coefficients struct {
	Stages int
	Order  int // 2s - 1

	A    [][]float64 // collocation matrix, s x s
	AInv [][]float64
	B    []float64 // quadrature weights, last row of A
	C    []float64 // collocation nodes, ascending, C[s-1] = 1

	// Real similarity T * Gamma * T^-1 of the Crout lower factor of A.
	T      [][]float64
	TI     [][]float64
	Gamma  [][]float64
	Gammas []float64 // per-block diagonal coefficients of Gamma

	// Embedded error coefficients.
	BHat1 float64   // damping ratio times the last block coefficient
	BHat  []float64 // implicit embedded weights
	BHat2 []float64 // explicit-limit embedded weights
	V     []float64 // B - BHat
	V2    []float64 // BHat2 - B

	P  [][]float64 // dense-output interpolation matrix, s x s
	P2 [][]float64 // collocation-error interpolation matrix, s x s

	splitting [][]float64 // Crout lower factor, kept for verification
}

// Compute derives all coefficients for an s-stage method. Any s >= 1 is
// accepted here; the public solver options apply their own stage-count
// validation. Conditioning of the Vandermonde systems degrades for large
// s, so callers should stay in the single digits.
func Compute(s int) (*Coefficients, error) {
	if s < 1 {
		return nil, fmt.Errorf("tableau: stage count must be >= 1, got %d", s)
	}

	c, err := radauNodes(s)
	if err != nil {
		return nil, err
	}

	a, err := collocationMatrix(c)
	if err != nil {
		return nil, err
	}
	aInv, err := invert(a)
	if err != nil {
		return nil, fmt.Errorf("tableau: collocation matrix is singular: %w", err)
	}
	b := append([]float64(nil), a[s-1]...)

	lower, _ := croutSplit(a)
	t, ti, gamma, err := realBlockDiagonalize(lower)
	if err != nil {
		return nil, err
	}
	if err := verifyReconstruction(t, gamma, ti, lower); err != nil {
		return nil, err
	}
	gammas, err := blockCoefficients(gamma)
	if err != nil {
		return nil, err
	}

	coef := &Coefficients{
		Stages:    s,
		Order:     2*s - 1,
		A:         a,
		AInv:      aInv,
		B:         b,
		C:         c,
		T:         t,
		TI:        ti,
		Gamma:     gamma,
		Gammas:    gammas,
		splitting: lower,
	}
	if err := coef.deriveEmbedded(); err != nil {
		return nil, err
	}
	return coef, nil
}

// radauNodes returns the s collocation nodes: the roots of the (s-1)th
// derivative of x^(s-1) * (x-1)^s, found as companion-matrix eigenvalues
// and polished with a couple of Newton iterations.
func radauNodes(s int) ([]float64, error) {
	// x^(s-1) * (x-1)^s in ascending powers, degree 2s-1.
	coeffs := make([]float64, 2*s)
	sign := 1.0
	if s%2 == 1 {
		sign = -1.0
	}
	for k := 0; k <= s; k++ {
		coeffs[k+s-1] = sign * binomial(s, k)
		sign = -sign
	}
	for d := 0; d < s-1; d++ {
		next := make([]float64, len(coeffs)-1)
		for j := 1; j < len(coeffs); j++ {
			next[j-1] = float64(j) * coeffs[j]
		}
		coeffs = next
	}
	// coeffs now has degree s.
	lead := coeffs[s]
	monic := make([]float64, s)
	for j := 0; j < s; j++ {
		monic[j] = coeffs[j] / lead
	}

	comp := mat.NewDense(s, s, nil)
	for i := 1; i < s; i++ {
		comp.Set(i, i-1, 1)
	}
	for i := 0; i < s; i++ {
		comp.Set(i, s-1, -monic[i])
	}

	var eig mat.Eigen
	if !eig.Factorize(comp, mat.EigenNone) {
		return nil, fmt.Errorf("tableau: node eigenvalue computation failed for s=%d", s)
	}
	vals := eig.Values(nil)
	nodes := make([]float64, s)
	for i, v := range vals {
		nodes[i] = real(v)
	}
	sort.Float64s(nodes)

	// Newton polish; the Radau roots are simple so two steps suffice.
	for i, x := range nodes {
		for it := 0; it < 3; it++ {
			p, dp := hornerWithDerivative(coeffs, x)
			if dp == 0 {
				break
			}
			x -= p / dp
		}
		nodes[i] = x
	}
	return nodes, nil
}

// collocationMatrix solves the s Vandermonde systems giving the rows of
// A from the quadrature conditions sum_j a_ij c_j^(q) = c_i^(q+1)/(q+1).
func collocationMatrix(c []float64) ([][]float64, error) {
	s := len(c)
	m := mat.NewDense(s, s, nil)
	for q := 0; q < s; q++ {
		for j := 0; j < s; j++ {
			m.Set(q, j, math.Pow(c[j], float64(q)))
		}
	}
	var lu mat.LU
	lu.Factorize(m)

	a := make([][]float64, s)
	rhs := mat.NewVecDense(s, nil)
	for i := 0; i < s; i++ {
		for q := 0; q < s; q++ {
			rhs.SetVec(q, math.Pow(c[i], float64(q+1))/float64(q+1))
		}
		var row mat.VecDense
		if err := lu.SolveVecTo(&row, false, rhs); err != nil {
			return nil, fmt.Errorf("tableau: node Vandermonde system is singular: %w", err)
		}
		a[i] = make([]float64, s)
		for j := 0; j < s; j++ {
			a[i][j] = row.AtVec(j)
		}
	}
	return a, nil
}

// croutSplit returns the Crout factors of a: a lower triangle carrying
// the pivots and a unit-upper-diagonal triangle. The lower factor is the
// triangular splitting matrix whose per-stage diagonal drives the
// decoupled solves.
func croutSplit(a [][]float64) (lower, upper [][]float64) {
	s := len(a)
	lower = zeros(s, s)
	upper = zeros(s, s)
	for j := 0; j < s; j++ {
		for i := j; i < s; i++ {
			sum := 0.0
			for k := 0; k < j; k++ {
				sum += lower[i][k] * upper[k][j]
			}
			lower[i][j] = a[i][j] - sum
		}
		upper[j][j] = 1
		for i := j + 1; i < s; i++ {
			sum := 0.0
			for k := 0; k < j; k++ {
				sum += lower[j][k] * upper[k][i]
			}
			upper[j][i] = (a[j][i] - sum) / lower[j][j]
		}
	}
	return lower, upper
}

// realBlockDiagonalize eigen-decomposes the splitting matrix and folds
// the complex diagonal form into a real block-diagonal similarity:
// 1x1 blocks for real eigenvalues, 2x2 rotation blocks for conjugate
// pairs. The eigenvalue order is matched to the diagonal of the input so
// block coefficients line up with stage indices.
func realBlockDiagonalize(l [][]float64) (t, ti, gamma [][]float64, err error) {
	s := len(l)
	if s == 1 {
		return [][]float64{{1}}, [][]float64{{1}}, [][]float64{{l[0][0]}}, nil
	}

	lm := mat.NewDense(s, s, nil)
	for i := range l {
		for j := range l[i] {
			lm.Set(i, j, l[i][j])
		}
	}
	var eig mat.Eigen
	if !eig.Factorize(lm, mat.EigenRight) {
		return nil, nil, nil, fmt.Errorf("tableau: eigen decomposition of the splitting matrix failed")
	}
	vals := eig.Values(nil)
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	perm := matchToDiagonal(vals, l)

	t = zeros(s, s)
	gamma = zeros(s, s)
	pairTol := 1e-12 * maxAbs(l)
	col := 0
	used := make([]bool, s)
	for _, k := range perm {
		if used[k] {
			continue
		}
		used[k] = true
		lam := vals[k]
		if math.Abs(imag(lam)) <= pairTol {
			for i := 0; i < s; i++ {
				t[i][col] = real(vecs.At(i, k))
			}
			gamma[col][col] = real(lam)
			col++
			continue
		}
		// Conjugate pair: columns Re(v), Im(v); block [[a, b], [-b, a]].
		partner := conjugatePartner(vals, used, lam)
		if partner < 0 {
			return nil, nil, nil, ErrComplexBlock
		}
		used[partner] = true
		a, bb := real(lam), imag(lam)
		for i := 0; i < s; i++ {
			t[i][col] = real(vecs.At(i, k))
			t[i][col+1] = imag(vecs.At(i, k))
		}
		gamma[col][col] = a
		gamma[col][col+1] = bb
		gamma[col+1][col] = -bb
		gamma[col+1][col+1] = a
		col += 2
	}

	ti, err = invert(t)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tableau: eigenvector matrix is singular: %w", err)
	}
	return t, ti, gamma, nil
}

// matchToDiagonal orders eigenvalue indices so that the k-th entry is
// the eigenvalue closest to the k-th diagonal entry of the splitting
// matrix (they coincide exactly for triangular input).
func matchToDiagonal(vals []complex128, l [][]float64) []int {
	s := len(l)
	perm := make([]int, 0, s)
	taken := make([]bool, s)
	for j := 0; j < s; j++ {
		best, bestDist := -1, math.Inf(1)
		for k := 0; k < s; k++ {
			if taken[k] {
				continue
			}
			d := math.Abs(real(vals[k])-l[j][j]) + math.Abs(imag(vals[k]))
			if d < bestDist {
				best, bestDist = k, d
			}
		}
		taken[best] = true
		perm = append(perm, best)
	}
	return perm
}

func conjugatePartner(vals []complex128, used []bool, lam complex128) int {
	for k, v := range vals {
		if used[k] {
			continue
		}
		if math.Abs(real(v)-real(lam)) < 1e-9 && math.Abs(imag(v)+imag(lam)) < 1e-9 {
			return k
		}
	}
	return -1
}

func verifyReconstruction(t, gamma, ti, l [][]float64) error {
	s := len(l)
	worst := 0.0
	for i := 0; i < s; i++ {
		for j := 0; j < s; j++ {
			sum := 0.0
			for p := 0; p < s; p++ {
				for q := 0; q < s; q++ {
					sum += t[i][p] * gamma[p][q] * ti[q][j]
				}
			}
			if d := math.Abs(sum - l[i][j]); d > worst {
				worst = d
			}
		}
	}
	if worst > reconstructTol {
		return fmt.Errorf("%w: residual %.3e for s=%d", ErrBadTransform, worst, s)
	}
	return nil
}

// blockCoefficients extracts the per-stage scalar coefficients from
// Gamma. The decoupled per-stage factorizations require a fully diagonal
// Gamma, which the Radau splitting guarantees.
func blockCoefficients(gamma [][]float64) ([]float64, error) {
	s := len(gamma)
	out := make([]float64, s)
	for i := 0; i < s; i++ {
		for j := 0; j < s; j++ {
			if i != j && gamma[i][j] != 0 {
				return nil, ErrComplexBlock
			}
		}
		out[i] = gamma[i][i]
	}
	return out, nil
}

// deriveEmbedded computes the two embedded-error coefficient sets and
// the two interpolation matrices from Vandermonde systems over the
// nodes augmented with t=0.
func (c *Coefficients) deriveEmbedded() error {
	s := c.Stages
	cHat := append([]float64{0}, c.C...)

	// w[q][j] = cHat[j]^q: transposed increasing Vandermonde, (s+1)^2.
	w := mat.NewDense(s+1, s+1, nil)
	for q := 0; q <= s; q++ {
		for j := 0; j <= s; j++ {
			w.Set(q, j, math.Pow(cHat[j], float64(q)))
		}
	}

	var luSub mat.LU
	luSub.Factorize(w.Slice(0, s, 1, s+1))

	gammaLast := c.Gammas[s-1]
	c.BHat1 = dampingRatio * gammaLast

	rhs := mat.NewVecDense(s, nil)
	for q := 0; q < s; q++ {
		rhs.SetVec(q, 1/float64(q+1)-gammaLast)
	}
	rhs.SetVec(0, rhs.AtVec(0)-c.BHat1)
	var bHat mat.VecDense
	if err := luSub.SolveVecTo(&bHat, false, rhs); err != nil {
		return fmt.Errorf("tableau: embedded weight system is singular: %w", err)
	}

	rhs2 := mat.NewVecDense(s, nil)
	for q := 0; q < s; q++ {
		rhs2.SetVec(q, 1/float64(q+1))
	}
	rhs2.SetVec(0, rhs2.AtVec(0)-gammaLast)
	var bHat2 mat.VecDense
	if err := luSub.SolveVecTo(&bHat2, false, rhs2); err != nil {
		return fmt.Errorf("tableau: embedded weight system is singular: %w", err)
	}

	c.BHat = make([]float64, s)
	c.BHat2 = make([]float64, s)
	c.V = make([]float64, s)
	c.V2 = make([]float64, s)
	for i := 0; i < s; i++ {
		c.BHat[i] = bHat.AtVec(i)
		c.BHat2[i] = bHat2.AtVec(i)
		c.V[i] = c.B[i] - c.BHat[i]
		c.V2[i] = c.BHat2[i] - c.B[i]
	}

	// Dense-output interpolation: inverse Vandermonde over [0, c...],
	// first row and column dropped.
	var wInv mat.Dense
	if err := wInv.Inverse(w); err != nil {
		return fmt.Errorf("tableau: interpolation Vandermonde is singular: %w", err)
	}
	c.P = zeros(s, s)
	for i := 0; i < s; i++ {
		for j := 0; j < s; j++ {
			c.P[i][j] = wInv.At(i+1, j+1)
		}
	}

	// Collocation-error interpolation: inverse Vandermonde over the
	// nodes alone, row convention this time.
	v2m := mat.NewDense(s, s, nil)
	for i := 0; i < s; i++ {
		for q := 0; q < s; q++ {
			v2m.Set(i, q, math.Pow(c.C[i], float64(q)))
		}
	}
	var v2Inv mat.Dense
	if err := v2Inv.Inverse(v2m); err != nil {
		return fmt.Errorf("tableau: interpolation Vandermonde is singular: %w", err)
	}
	c.P2 = zeros(s, s)
	for i := 0; i < s; i++ {
		for q := 0; q < s; q++ {
			c.P2[i][q] = v2Inv.At(i, q)
		}
	}
	return nil
}

func invert(a [][]float64) ([][]float64, error) {
	s := len(a)
	m := mat.NewDense(s, s, nil)
	for i := range a {
		for j := range a[i] {
			m.Set(i, j, a[i][j])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, err
	}
	out := zeros(s, s)
	for i := 0; i < s; i++ {
		for j := 0; j < s; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	return out, nil
}

func zeros(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	out := make([][]float64, rows)
	for i := range out {
		out[i] = backing[:cols]
		backing = backing[cols:]
	}
	return out
}

func binomial(n, k int) float64 {
	out := 1.0
	for i := 0; i < k; i++ {
		out *= float64(n-i) / float64(i+1)
	}
	return out
}

func hornerWithDerivative(coeffs []float64, x float64) (p, dp float64) {
	for j := len(coeffs) - 1; j >= 0; j-- {
		dp = dp*x + p
		p = p*x + coeffs[j]
	}
	return p, dp
}

func maxAbs(m [][]float64) float64 {
	out := 0.0
	for _, row := range m {
		for _, v := range row {
			if a := math.Abs(v); a > out {
				out = a
			}
		}
	}
	return out
}
