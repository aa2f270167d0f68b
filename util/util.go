// Package util contains misc internal utilities.
package util

import "math"

// Clamp limits x to the closed interval [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// Sign returns -1 for negative x and 1 otherwise.  Zero counts as positive,
// matching how a zero current-per-channel is treated as positive bias.
func Sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// Mean returns the arithmetic mean of xs, or NaN if xs is empty
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
