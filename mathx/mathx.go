// Package mathx provides rounding to a fixed unit, used when writing records
// with a fixed number of decimals.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero, so negative values are symmetric with positive ones.
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}
