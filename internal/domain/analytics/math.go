// Package analytics turns activity and grade records into student and
// class metrics. Every function here is pure: callers load the records,
// pass an explicit "now", and get plain structs back. Nothing reads the
// wall clock, touches storage, or keeps state between calls.
package analytics

import "math"

const roundEpsilon = 1e-9

// mean returns the arithmetic mean, or ok=false for an empty slice.
func mean(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), true
}

// tailMean averages the last n values (or all of them when fewer).
func tailMean(xs []float64, n int) (float64, bool) {
	if len(xs) > n {
		xs = xs[len(xs)-n:]
	}
	return mean(xs)
}

// roundHalfUp rounds to the nearest integer with .5 going up.
func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5 + roundEpsilon)
}

// round1 rounds to one decimal place, half up.
func round1(x float64) float64 {
	return roundHalfUp(x*10) / 10
}

func floatPtr(v float64) *float64 {
	return &v
}
