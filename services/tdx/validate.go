package tdx

import (
	"fmt"
	"strings"
)

// normalizeIdent maps the short OHLCV aliases onto their long form.
func normalizeIdent(name string) string {
	up := strings.ToUpper(name)
	switch up {
	case "O":
		return "OPEN"
	case "H":
		return "HIGH"
	case "L":
		return "LOW"
	case "C":
		return "CLOSE"
	case "V":
		return "VOL"
	}
	return up
}

func isBaseIdent(name string) bool {
	switch normalizeIdent(name) {
	case "OPEN", "HIGH", "LOW", "CLOSE", "VOL", "AMOUNT":
		return true
	}
	return false
}

// Validate checks a parsed formula before any per-symbol evaluation starts:
// every function must be known with the right arity, and every identifier
// must be a base field or a column defined by an earlier statement. A
// reference to a later statement is a cyclic reference (each name is
// assigned exactly once, so declaration order is the dependency order).
func Validate(f *Formula) error {
	later := map[string]bool{}
	for _, st := range f.Stmts {
		later[st.Name] = true
	}
	defined := map[string]bool{}
	for _, st := range f.Stmts {
		if err := checkExpr(st.Expr, defined, later); err != nil {
			return fmt.Errorf("column %q: %w", st.Name, err)
		}
		defined[st.Name] = true
	}
	return nil
}

func checkExpr(x Expr, defined, later map[string]bool) error {
	switch t := x.(type) {
	case *NumberLit, *StringLit:
		return nil
	case *Ident:
		if isBaseIdent(t.Name) || defined[t.Name] {
			return nil
		}
		if later[t.Name] {
			return fmt.Errorf("%w: %s", ErrCyclicReference, t.Name)
		}
		return fmt.Errorf("%w: %s", ErrUnknownIdentifier, t.Name)
	case *Unary:
		return checkExpr(t.X, defined, later)
	case *Not:
		return checkExpr(t.X, defined, later)
	case *Binary:
		if err := checkExpr(t.X, defined, later); err != nil {
			return err
		}
		return checkExpr(t.Y, defined, later)
	case *Call:
		want, ok := builtinArity[t.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFunction, t.Name)
		}
		if len(t.Args) != want {
			return parseErrorf(t.line, t.col, t.Name,
				"%s expects %d arguments, got %d", t.Name, want, len(t.Args))
		}
		for _, a := range t.Args {
			if err := checkExpr(a, defined, later); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unexpected expression node %T", x)
}
