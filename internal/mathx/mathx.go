package mathx

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Abs for signed integers.
func Abs[T constraints.Signed](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// RoundPlaces rounds x half away from zero to n decimal places.
func RoundPlaces(x float64, n int) float64 {
	p := math.Pow(10, float64(n))
	return math.Round(x*p) / p
}

// RoundSig rounds x to sig significant figures. sig <= 0 returns x as is.
func RoundSig(x float64, sig int) float64 {
	if sig <= 0 || x == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	mag := int(math.Ceil(math.Log10(math.Abs(x))))
	return RoundPlaces(x, sig-mag)
}
