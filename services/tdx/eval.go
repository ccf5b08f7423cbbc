package tdx

import (
	"fmt"
	"math"

	"tdx_screener/models"
)

// Result holds one evaluated formula: one column per statement, in declared
// order, plus the name of the selection output column.
type Result struct {
	Names   []string
	Columns map[string]Value
	Output  string
}

// Picked reports whether the output column is true at the most recent bar.
func (r *Result) Picked(n int) bool {
	out, ok := r.Columns[r.Output]
	if !ok {
		return false
	}
	return out.LastBool(n)
}

type env struct {
	w    *models.BarWindow
	meta SymbolMeta
	vars map[string]Value
}

func (e *env) n() int { return e.w.Len() }

// Evaluate runs a validated formula against a bar window, producing one
// column per statement. The window must cover the formula's longest lookback
// or ErrInsufficientHistory is returned and the caller skips the symbol.
func Evaluate(f *Formula, w *models.BarWindow) (*Result, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}
	need := RequiredBars(f)
	if w.Len() < need {
		return nil, fmt.Errorf("%w: need %d bars, window has %d",
			ErrInsufficientHistory, need, w.Len())
	}

	e := &env{
		w:    w,
		meta: SymbolMeta{Code: w.Code, Name: w.Name, Exchange: w.Exchange},
		vars: make(map[string]Value, len(f.Stmts)),
	}
	res := &Result{
		Columns: make(map[string]Value, len(f.Stmts)),
		Output:  f.Output,
	}
	for _, st := range f.Stmts {
		v, err := e.eval(st.Expr)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", st.Name, err)
		}
		e.vars[st.Name] = v
		res.Names = append(res.Names, st.Name)
		res.Columns[st.Name] = v
	}
	return res, nil
}

func (e *env) eval(x Expr) (Value, error) {
	switch t := x.(type) {
	case *NumberLit:
		return scalarVal(t.Val), nil

	case *StringLit:
		return stringVal(t.Val), nil

	case *Ident:
		if v, ok := e.vars[t.Name]; ok {
			return v, nil
		}
		if col, ok := e.baseColumn(t.Name); ok {
			return numsVal(col), nil
		}
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownIdentifier, t.Name)

	case *Unary:
		v, err := e.eval(t.X)
		if err != nil {
			return Value{}, err
		}
		if v.kind == kindScalar {
			return scalarVal(-v.num), nil
		}
		src := v.Nums(e.n())
		out := make([]float64, len(src))
		for i, f := range src {
			out[i] = -f
		}
		return numsVal(out), nil

	case *Not:
		v, err := e.eval(t.X)
		if err != nil {
			return Value{}, err
		}
		b := v.Bools(e.n())
		out := make([]bool, len(b))
		for i := range b {
			out[i] = !b[i]
		}
		return boolsVal(out), nil

	case *Binary:
		return e.evalBinary(t)

	case *Call:
		return e.evalCall(t)
	}
	return Value{}, fmt.Errorf("unexpected expression node %T", x)
}

func (e *env) evalBinary(b *Binary) (Value, error) {
	l, err := e.eval(b.X)
	if err != nil {
		return Value{}, err
	}
	r, err := e.eval(b.Y)
	if err != nil {
		return Value{}, err
	}

	switch b.Op {
	case "AND", "OR":
		lb, rb := l.Bools(e.n()), r.Bools(e.n())
		out := make([]bool, e.n())
		for i := range out {
			if b.Op == "AND" {
				out[i] = lb[i] && rb[i]
			} else {
				out[i] = lb[i] || rb[i]
			}
		}
		return boolsVal(out), nil

	case "<", ">", "<=", ">=", "=", "==", "!=", "<>":
		lf, rf := l.Nums(e.n()), r.Nums(e.n())
		out := make([]bool, e.n())
		for i := range out {
			a, c := lf[i], rf[i]
			// comparisons against NaN are always false
			if math.IsNaN(a) || math.IsNaN(c) {
				continue
			}
			switch b.Op {
			case "<":
				out[i] = a < c
			case ">":
				out[i] = a > c
			case "<=":
				out[i] = a <= c
			case ">=":
				out[i] = a >= c
			case "=", "==":
				out[i] = a == c
			case "!=", "<>":
				out[i] = a != c
			}
		}
		return boolsVal(out), nil
	}

	// arithmetic on scalars stays scalar so MA(X, 2*N) keeps a scalar N
	if l.kind == kindScalar && r.kind == kindScalar {
		return scalarVal(arith(b.Op, l.num, r.num)), nil
	}
	lf, rf := l.Nums(e.n()), r.Nums(e.n())
	out := make([]float64, e.n())
	for i := range out {
		out[i] = arith(b.Op, lf[i], rf[i])
	}
	return numsVal(out), nil
}

// arith applies + - * / with the platform's NaN rules: any NaN operand and
// any division by zero produce NaN, never ±Inf.
func arith(op string, a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return nan
	}
	switch op {
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	case "/":
		if b == 0 {
			return nan
		}
		return a / b
	}
	return nan
}

func (e *env) evalCall(c *Call) (Value, error) {
	want, ok := builtinArity[c.Name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownFunction, c.Name)
	}
	if len(c.Args) != want {
		return Value{}, parseErrorf(c.line, c.col, c.Name,
			"%s expects %d arguments, got %d", c.Name, want, len(c.Args))
	}

	switch c.Name {
	case "INBLOCK", "NAMELIKE":
		arg, err := e.eval(c.Args[0])
		if err != nil {
			return Value{}, err
		}
		if !arg.IsString() {
			return Value{}, parseErrorf(c.line, c.col, c.Name, "%s wants a string argument", c.Name)
		}
		var flag bool
		if c.Name == "INBLOCK" {
			flag = e.meta.InBlock(arg.Str())
		} else {
			flag = e.meta.NameLike(arg.Str())
		}
		out := make([]bool, e.n())
		for i := range out {
			out[i] = flag
		}
		return boolsVal(out), nil
	}

	x, err := e.eval(c.Args[0])
	if err != nil {
		return Value{}, err
	}
	xs := x.Nums(e.n())
	n, err := e.intArg(c, 1)
	if err != nil {
		return Value{}, err
	}

	switch c.Name {
	case "REF":
		return numsVal(Ref(xs, n)), nil
	case "MA":
		return numsVal(MA(xs, n)), nil
	case "EMA":
		return numsVal(EMA(xs, n)), nil
	case "LLV":
		return numsVal(LLV(xs, n)), nil
	case "HHV":
		return numsVal(HHV(xs, n)), nil
	case "SMA":
		m, err := e.intArg(c, 2)
		if err != nil {
			return Value{}, err
		}
		return numsVal(SMA(xs, n, m)), nil
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUnknownFunction, c.Name)
}

func (e *env) intArg(c *Call, idx int) (int, error) {
	v, err := e.eval(c.Args[idx])
	if err != nil {
		return 0, err
	}
	n, ok := v.scalarArg()
	if !ok || n <= 0 {
		return 0, parseErrorf(c.line, c.col, c.Name,
			"%s argument %d must be a positive number", c.Name, idx+1)
	}
	return n, nil
}

// baseColumn resolves the built-in OHLCV identifiers, long or short form.
func (e *env) baseColumn(name string) ([]float64, bool) {
	switch normalizeIdent(name) {
	case "OPEN":
		return e.w.Open, true
	case "HIGH":
		return e.w.High, true
	case "LOW":
		return e.w.Low, true
	case "CLOSE":
		return e.w.Close, true
	case "VOL":
		return e.w.Volume, true
	case "AMOUNT":
		return e.w.Amount, true
	}
	return nil, false
}
