package mathhelp

import (
	"math"

	"golang.org/x/exp/constraints"
)

func Pow2(n uint) uint {
	return 1 << n
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FloorEps floors f, treating values within eps below an integer as that integer.
func FloorEps(f, eps float64) float64 {
	return math.Floor(f + eps)
}

// CeilEps ceils f, treating values within eps above an integer as that integer.
func CeilEps(f, eps float64) float64 {
	return math.Ceil(f - eps)
}

// NaNMinMax folds v into a running min/max pair, skipping NaN.
// Start with min and max both NaN.
func NaNMinMax(lo, hi, v float64) (float64, float64) {
	if math.IsNaN(v) {
		return lo, hi
	}
	if math.IsNaN(lo) || v < lo {
		lo = v
	}
	if math.IsNaN(hi) || v > hi {
		hi = v
	}
	return lo, hi
}
