package tdx

// Static lookback analysis. The lookback of an expression is how many bars
// before the current one it needs for a valid (non-NaN) output; recursive
// functions (SMA/EMA) are charged their period like a window function, which
// is the minimum history for the recursion to be seeded and usable.

// RequiredBars returns the minimum window length a formula needs. A shorter
// window is an InsufficientHistory case for that symbol.
func RequiredBars(f *Formula) int {
	lbs := map[string]int{}
	maxLB := 0
	for _, st := range f.Stmts {
		lb := exprLookback(st.Expr, lbs)
		lbs[st.Name] = lb
		if lb > maxLB {
			maxLB = lb
		}
	}
	return maxLB + 1
}

func exprLookback(x Expr, vars map[string]int) int {
	switch t := x.(type) {
	case *NumberLit, *StringLit:
		return 0
	case *Ident:
		return vars[t.Name] // base fields have lookback 0
	case *Unary:
		return exprLookback(t.X, vars)
	case *Not:
		return exprLookback(t.X, vars)
	case *Binary:
		a := exprLookback(t.X, vars)
		b := exprLookback(t.Y, vars)
		if a > b {
			return a
		}
		return b
	case *Call:
		return callLookback(t, vars)
	}
	return 0
}

func callLookback(c *Call, vars map[string]int) int {
	switch c.Name {
	case "INBLOCK", "NAMELIKE":
		return 0
	}
	inner := exprLookback(c.Args[0], vars)
	n := constArg(c.Args[1])
	switch c.Name {
	case "REF":
		return inner + n
	case "MA", "EMA", "SMA", "LLV", "HHV":
		if n > 0 {
			return inner + n - 1
		}
		return inner
	}
	return inner
}

// constArg resolves a literal (possibly signed or arithmetic) period
// argument; non-constant periods contribute no lookback and fail later at
// evaluation time.
func constArg(x Expr) int {
	switch t := x.(type) {
	case *NumberLit:
		return int(t.Val)
	case *Unary:
		return -constArg(t.X)
	case *Binary:
		a, b := constArg(t.X), constArg(t.Y)
		switch t.Op {
		case "+":
			return a + b
		case "-":
			return a - b
		case "*":
			return a * b
		case "/":
			if b != 0 {
				return a / b
			}
		}
	}
	return 0
}
