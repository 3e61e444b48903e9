// Package utils provides shared utilities for vector math and logging.
package utils

import "math"

// L2Norm returns the Euclidean norm of x, accumulated in float64.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// IsFinite reports whether every component of x is neither NaN nor infinite.
func IsFinite(x []float32) bool {
	for _, v := range x {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// NormalizeL2 normalizes the slice in place to unit L2 norm and returns the norm it had.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) float64 {
	norm := L2Norm(x)
	if norm == 0 {
		return 0
	}
	inv := 1.0 / norm
	for i := range x {
		x[i] = float32(float64(x[i]) * inv)
	}
	return norm
}

// Normalized returns a unit-norm copy of x and the original norm. x is not modified.
func Normalized(x []float32) ([]float32, float64) {
	out := make([]float32, len(x))
	copy(out, x)
	return out, NormalizeL2(out)
}

// Dot returns the inner product of a and b in float64. Lengths must match.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
