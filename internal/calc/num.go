package calc

import "math"

// SafeDiv returns a/b, or 0 when b is 0 or the result is not finite.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	v := a / b
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Percent is SafeDiv scaled to 0..100 and rounded to two places.
func Percent(part, total float64) float64 {
	return Round(SafeDiv(part, total)*100, 2)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
