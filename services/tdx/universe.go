package tdx

// Constraint is one INBLOCK/NAMELIKE condition that is ANDed into the
// formula's output. These depend only on symbol metadata, so the screening
// orchestrator applies them once per run to shrink the universe before any
// bar window is loaded.
type Constraint struct {
	Fn     string // "INBLOCK" or "NAMELIKE"
	Arg    string
	Negate bool
}

// Match reports whether a symbol passes the constraint.
func (c Constraint) Match(m SymbolMeta) bool {
	var hit bool
	switch c.Fn {
	case "INBLOCK":
		hit = m.InBlock(c.Arg)
	case "NAMELIKE":
		hit = m.NameLike(c.Arg)
	}
	if c.Negate {
		return !hit
	}
	return hit
}

// UniverseConstraints extracts the INBLOCK/NAMELIKE conditions that are
// conjunctively required by the output column, following references to
// earlier named columns. Constraints in non-conjunctive positions (under OR,
// arithmetic, comparisons) are left to per-bar evaluation, where they still
// hold exactly as constant columns.
func UniverseConstraints(f *Formula) []Constraint {
	exprs := make(map[string]Expr, len(f.Stmts))
	for _, st := range f.Stmts {
		exprs[st.Name] = st.Expr
	}
	out, ok := exprs[f.Output]
	if !ok {
		return nil
	}
	var cs []Constraint
	collectConjuncts(out, false, exprs, map[string]bool{}, &cs)
	return cs
}

func collectConjuncts(x Expr, negate bool, exprs map[string]Expr, seen map[string]bool, cs *[]Constraint) {
	switch t := x.(type) {
	case *Binary:
		if t.Op == "AND" && !negate {
			collectConjuncts(t.X, false, exprs, seen, cs)
			collectConjuncts(t.Y, false, exprs, seen, cs)
		}
	case *Not:
		collectConjuncts(t.X, !negate, exprs, seen, cs)
	case *Ident:
		if seen[t.Name] {
			return
		}
		sub, ok := exprs[t.Name]
		if !ok {
			return
		}
		// a negated reference distributes only over a single-term column
		if negate {
			switch sub.(type) {
			case *Call, *Not:
			default:
				return
			}
		}
		seen[t.Name] = true
		collectConjuncts(sub, negate, exprs, seen, cs)
	case *Call:
		if t.Name != "INBLOCK" && t.Name != "NAMELIKE" {
			return
		}
		if len(t.Args) != 1 {
			return
		}
		lit, ok := t.Args[0].(*StringLit)
		if !ok {
			return
		}
		*cs = append(*cs, Constraint{Fn: t.Name, Arg: lit.Val, Negate: negate})
	}
}
