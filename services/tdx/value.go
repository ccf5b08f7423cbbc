package tdx

import "math"

type valueKind int

const (
	kindScalar valueKind = iota
	kindString
	kindNums
	kindBools
)

// Value is the result of evaluating one expression: a numeric scalar, a
// string literal, a numeric column or a boolean column. Columns are aligned
// 1:1 with the bar window.
type Value struct {
	kind  valueKind
	num   float64
	str   string
	nums  []float64
	bools []bool
}

func scalarVal(v float64) Value { return Value{kind: kindScalar, num: v} }
func stringVal(s string) Value  { return Value{kind: kindString, str: s} }
func numsVal(v []float64) Value { return Value{kind: kindNums, nums: v} }
func boolsVal(v []bool) Value   { return Value{kind: kindBools, bools: v} }

func (v Value) IsBool() bool   { return v.kind == kindBools }
func (v Value) IsString() bool { return v.kind == kindString }
func (v Value) Str() string    { return v.str }

// Nums materializes the value as a numeric column of length n.
// Booleans become 1/0, the TDX convention for arithmetic on conditions.
func (v Value) Nums(n int) []float64 {
	switch v.kind {
	case kindNums:
		return v.nums
	case kindScalar:
		out := make([]float64, n)
		for i := range out {
			out[i] = v.num
		}
		return out
	case kindBools:
		out := make([]float64, n)
		for i, b := range v.bools {
			if b {
				out[i] = 1
			}
		}
		return out
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = nan
	}
	return out
}

// Bools materializes the value as a boolean column of length n. A numeric
// value is true where finite and non-zero; NaN is false.
func (v Value) Bools(n int) []bool {
	switch v.kind {
	case kindBools:
		return v.bools
	case kindNums:
		out := make([]bool, n)
		for i, f := range v.nums {
			out[i] = !math.IsNaN(f) && f != 0
		}
		return out
	case kindScalar:
		out := make([]bool, n)
		b := !math.IsNaN(v.num) && v.num != 0
		for i := range out {
			out[i] = b
		}
		return out
	}
	return make([]bool, n)
}

// LastBool reports the boolean value at the most recent bar.
func (v Value) LastBool(n int) bool {
	b := v.Bools(n)
	if len(b) == 0 {
		return false
	}
	return b[len(b)-1]
}

// LastNum returns the numeric value at the most recent bar and whether it is
// finite.
func (v Value) LastNum(n int) (float64, bool) {
	f := v.Nums(n)
	if len(f) == 0 {
		return 0, false
	}
	last := f[len(f)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return 0, false
	}
	return last, true
}

// scalarArg extracts an integer function argument such as the N of MA(X,N).
func (v Value) scalarArg() (int, bool) {
	if v.kind != kindScalar {
		return 0, false
	}
	return int(v.num), true
}
