package dae

import "math"

// kappa shapes the arctan limiter of the step-size controller: the
// predicted factor is bent smoothly into (1 - kappa*pi/2, 1 + kappa*pi/2)
// instead of being clamped, which avoids abrupt step-size jumps.
const kappa = 1.0

// predictFactor predicts the multiplicative step-size factor from the
// current and previous (step magnitude, error norm) pairs, following
// the two-step controller of Hairer/Wanner IV.8. Pass NaN for hOld or
// errNormOld when no previous accepted step exists; the controller then
// degenerates to the elementary one-step rule.
func predictFactor(h, hOld, errNorm, errNormOld float64, s int) float64 {
	multiplier := 1.0
	if !math.IsNaN(hOld) && !math.IsNaN(errNormOld) && errNorm != 0 {
		multiplier = h / hOld * math.Pow(errNormOld/errNorm, 1/float64(s+1))
	}

	// errNorm == 0 sends the raw factor to +Inf; the limiter maps that
	// to the finite ceiling 1 + kappa*pi/2.
	factor := math.Min(1, multiplier) * math.Pow(errNorm, -1/float64(s+1))

	return 1 + kappa*math.Atan((factor-1)/kappa)
}
