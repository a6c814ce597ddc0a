package dae

import "math"

// rmsNorm is the scaled root-mean-square norm |v|/sqrt(len(v)) used for
// every convergence and error decision in the stepper.
func rmsNorm(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(v)))
}

// scaledRMS flattens the stage-by-component array m and returns the RMS
// norm of m[i][d]/scale[d].
func scaledRMS(m [][]float64, scale []float64) float64 {
	total := 0
	sum := 0.0
	for _, row := range m {
		for d, x := range row {
			r := x / scale[d]
			sum += r * r
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(total))
}

func allFinite(m [][]float64) bool {
	for _, row := range m {
		for _, x := range row {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}
