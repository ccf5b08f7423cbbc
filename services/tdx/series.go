package tdx

import "math"

// Vectorized and recursive column primitives. These are shared by the formula
// evaluator and the indicator derivation layer so both produce bit-identical
// results. The recursive functions are written as explicit folds with a
// seeded/unseeded carry so the leading-NaN rule stays auditable.

var nan = math.NaN()

// Ref shifts x backward by n bars. Positions before the window start are NaN.
func Ref(x []float64, n int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i < n {
			out[i] = nan
			continue
		}
		out[i] = x[i-n]
	}
	return out
}

// MA is the simple moving average over exactly n bars. Any NaN inside the
// window, or a window reaching before the start, makes that output NaN.
func MA(x []float64, n int) []float64 {
	out := make([]float64, len(x))
	if n <= 0 {
		for i := range out {
			out[i] = nan
		}
		return out
	}
	sum := 0.0
	nans := 0
	for i := range x {
		if math.IsNaN(x[i]) {
			nans++
		} else {
			sum += x[i]
		}
		if i >= n {
			if math.IsNaN(x[i-n]) {
				nans--
			} else {
				sum -= x[i-n]
			}
		}
		if i < n-1 || nans > 0 {
			out[i] = nan
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// LLV is the rolling minimum over up to n bars (the window is truncated at
// the start). NaN inputs are ignored unless the whole window is NaN.
func LLV(x []float64, n int) []float64 {
	return rollExtreme(x, n, func(a, b float64) bool { return a < b })
}

// HHV is the rolling maximum over up to n bars, same NaN handling as LLV.
func HHV(x []float64, n int) []float64 {
	return rollExtreme(x, n, func(a, b float64) bool { return a > b })
}

func rollExtreme(x []float64, n int, better func(a, b float64) bool) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		lo := i - n + 1
		if lo < 0 {
			lo = 0
		}
		best := nan
		for j := lo; j <= i; j++ {
			if math.IsNaN(x[j]) {
				continue
			}
			if math.IsNaN(best) || better(x[j], best) {
				best = x[j]
			}
		}
		out[i] = best
	}
	return out
}

// SMA is the recursive smoothing Y[i] = (m*X[i] + (n-m)*Y[i-1]) / n. The
// first finite input seeds the carry; every index before the seed stays NaN,
// so a leading NaN never poisons the rest of the column. A NaN after seeding
// emits NaN for that bar and the recursion resumes from the held carry.
func SMA(x []float64, n, m int) []float64 {
	out := make([]float64, len(x))
	var carry float64
	seeded := false
	for i, v := range x {
		if math.IsNaN(v) {
			out[i] = nan
			continue
		}
		if !seeded {
			carry = v
			seeded = true
			out[i] = v
			continue
		}
		carry = (float64(m)*v + float64(n-m)*carry) / float64(n)
		out[i] = carry
	}
	return out
}

// EMA is the recursive smoothing Y[i] = (2*X[i] + (n-1)*Y[i-1]) / (n+1),
// with the same seeding discipline as SMA.
func EMA(x []float64, n int) []float64 {
	out := make([]float64, len(x))
	var carry float64
	seeded := false
	for i, v := range x {
		if math.IsNaN(v) {
			out[i] = nan
			continue
		}
		if !seeded {
			carry = v
			seeded = true
			out[i] = v
			continue
		}
		carry = (2*v + float64(n-1)*carry) / float64(n+1)
		out[i] = carry
	}
	return out
}
