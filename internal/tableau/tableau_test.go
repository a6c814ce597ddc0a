package tableau

import (
	"math"
	"testing"
)

func TestOrderConditions(t *testing.T) {
	for _, s := range []int{1, 2, 3, 4, 5, 7, 9} {
		coef, err := Compute(s)
		if err != nil {
			t.Fatalf("Compute(%d) failed: %v", s, err)
		}

		if coef.Order != 2*s-1 {
			t.Errorf("s=%d: expected order %d, got %d", s, 2*s-1, coef.Order)
		}

		// Quadrature conditions b . c^(k-1) = 1/k for k = 1..2s-1.
		for k := 1; k <= 2*s-1; k++ {
			sum := 0.0
			for i := 0; i < s; i++ {
				sum += coef.B[i] * math.Pow(coef.C[i], float64(k-1))
			}
			if math.Abs(sum-1/float64(k)) > 1e-10 {
				t.Errorf("s=%d: quadrature condition k=%d off by %g", s, k, sum-1/float64(k))
			}
		}

		// Stiff accuracy: the last node is 1 and b is the last row of A.
		if math.Abs(coef.C[s-1]-1) > 1e-12 {
			t.Errorf("s=%d: last node %g, expected 1", s, coef.C[s-1])
		}
		for j := 0; j < s; j++ {
			if math.Abs(coef.A[s-1][j]-coef.B[j]) > 1e-12 {
				t.Errorf("s=%d: A last row differs from b at %d", s, j)
			}
		}
	}
}

func TestNodesSortedInUnitInterval(t *testing.T) {
	for _, s := range []int{2, 3, 4, 5, 9} {
		coef, err := Compute(s)
		if err != nil {
			t.Fatalf("Compute(%d) failed: %v", s, err)
		}
		prev := 0.0
		for i, c := range coef.C {
			if c <= prev || c > 1+1e-12 {
				t.Errorf("s=%d: node %d = %g not increasing in (0,1]", s, i, c)
			}
			prev = c
		}
	}
}

func TestSplittingReconstruction(t *testing.T) {
	for _, s := range []int{1, 2, 3, 4, 5} {
		coef, err := Compute(s)
		if err != nil {
			t.Fatalf("Compute(%d) failed: %v", s, err)
		}

		// T * Gamma * TI must reproduce the Crout lower factor.
		for i := 0; i < s; i++ {
			for j := 0; j < s; j++ {
				sum := 0.0
				for k := 0; k < s; k++ {
					for l := 0; l < s; l++ {
						sum += coef.T[i][k] * coef.Gamma[k][l] * coef.TI[l][j]
					}
				}
				if math.Abs(sum-coef.splitting[i][j]) > 1e-9 {
					t.Errorf("s=%d: reconstruction off at (%d,%d) by %g",
						s, i, j, sum-coef.splitting[i][j])
				}
			}
		}

		// The lower factor is triangular, so the block coefficients are
		// its diagonal and therefore real.
		for i, g := range coef.Gammas {
			if math.Abs(g-coef.splitting[i][i]) > 1e-9 {
				t.Errorf("s=%d: gamma %d = %g, diagonal %g", s, i, g, coef.splitting[i][i])
			}
		}
	}
}

func TestGammasPositive(t *testing.T) {
	for _, s := range []int{1, 2, 3, 4, 6, 8} {
		coef, err := Compute(s)
		if err != nil {
			t.Fatalf("Compute(%d) failed: %v", s, err)
		}
		for i, g := range coef.Gammas {
			if g <= 0 {
				t.Errorf("s=%d: gamma %d = %g, expected positive", s, i, g)
			}
		}
	}
}

func TestEmbeddedWeights(t *testing.T) {
	for _, s := range []int{2, 3, 4, 5} {
		coef, err := Compute(s)
		if err != nil {
			t.Fatalf("Compute(%d) failed: %v", s, err)
		}

		gammaLast := coef.Gammas[s-1]
		if math.Abs(coef.BHat1-0.01*gammaLast) > 1e-12 {
			t.Errorf("s=%d: BHat1 = %g, expected %g", s, coef.BHat1, 0.01*gammaLast)
		}

		// First-order consistency of the implicit embedded method:
		// b_hat1 + sum(b_hat) + gamma_last = 1.
		sum := coef.BHat1 + gammaLast
		for _, b := range coef.BHat {
			sum += b
		}
		if math.Abs(sum-1) > 1e-10 {
			t.Errorf("s=%d: embedded weights sum to %g", s, sum)
		}

		// Same for the explicit-limit variant without damping.
		sum2 := gammaLast
		for _, b := range coef.BHat2 {
			sum2 += b
		}
		if math.Abs(sum2-1) > 1e-10 {
			t.Errorf("s=%d: explicit-limit weights sum to %g", s, sum2)
		}
	}
}

func TestInvalidStages(t *testing.T) {
	for _, s := range []int{0, -1} {
		if _, err := Compute(s); err == nil {
			t.Errorf("Compute(%d) expected error", s)
		}
	}
}
