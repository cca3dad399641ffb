package utils

import (
	"math"
)

// MaxInt returns the larger of a and b.
func MaxInt(a, b int) int {
	if a < b {
		return b
	}
	return a
}

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ClampInt restricts n to [lo, hi].
func ClampInt(n, lo, hi int) int {
	return MinInt(MaxInt(n, lo), hi)
}

// ClampF64 restricts v to [lo, hi].
func ClampF64(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
