package pricing

import "math"

const (
	bisectIterations = 100
	bracketDoublings = 64
)

// bisect narrows [lo, hi] around a sign change of f. loNegative is the sign of f
// at (or just above) lo, so f is never evaluated at the interval ends.
func bisect(f func(float64) float64, lo, hi float64, loNegative bool) float64 {
	for i := 0; i < bisectIterations; i++ {
		mid := (lo + hi) / 2
		fm := f(mid)
		if math.IsNaN(fm) {
			return math.NaN()
		}
		if fm == 0 {
			return mid
		}
		if (fm < 0) == loNegative {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// bracketAbove doubles from start until f turns negative.
// f(start) is expected positive.
func bracketAbove(f func(float64) float64, start float64) (float64, bool) {
	hi := start * 2
	for i := 0; i < bracketDoublings; i++ {
		v := f(hi)
		if math.IsNaN(v) {
			return 0, false
		}
		if v < 0 {
			return hi, true
		}
		hi *= 2
	}
	return 0, false
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func degenerate(power, lossLimit float64) bool {
	return !(power > 0) || !(lossLimit > 0) || !isFinite(power) || !isFinite(lossLimit)
}
