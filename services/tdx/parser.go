package tdx

import (
	"fmt"
	"strconv"
	"strings"
)

// arity of every supported built-in; anything else is ErrUnknownFunction.
var builtinArity = map[string]int{
	"REF":      2,
	"MA":       2,
	"EMA":      2,
	"SMA":      3,
	"LLV":      2,
	"HHV":      2,
	"INBLOCK":  1,
	"NAMELIKE": 1,
}

type parser struct {
	toks []token
	i    int
}

// Parse turns formula text into a Formula. Statements end with ';'.
// NAME := EXPR defines a column, NAME : EXPR defines an output column, and a
// bare expression is an implicit output. Assigning to an already defined name
// is rejected.
func Parse(src string) (*Formula, error) {
	toks, err := newLexer(src).tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	f := &Formula{}
	defined := map[string]bool{}
	outN := 0
	for !p.at(tokEOF) {
		start := p.cur()
		name, expr, isOut, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		if name == "" {
			outN++
			name = fmt.Sprintf("OUT%d", outN)
			isOut = true
		}
		if defined[name] {
			return nil, parseErrorf(start.line, start.col, name, "name already defined")
		}
		defined[name] = true
		f.Stmts = append(f.Stmts, Stmt{Name: name, Expr: expr, IsOutput: isOut})
		if isOut {
			f.Output = name
		}
	}
	if len(f.Stmts) == 0 {
		return nil, parseErrorf(1, 1, "", "empty formula")
	}
	if f.Output == "" {
		// no explicit output statement: the last assignment is the signal
		last := &f.Stmts[len(f.Stmts)-1]
		last.IsOutput = true
		f.Output = last.Name
	}
	return f, nil
}

func (p *parser) parseStmt() (name string, expr Expr, isOut bool, err error) {
	// lookahead for IDENT ':=' / IDENT ':'
	if p.at(tokIdent) && p.i+1 < len(p.toks) && p.toks[p.i+1].typ == tokOp {
		switch p.toks[p.i+1].text {
		case ":=":
			name = p.next().text
			p.next()
		case ":":
			name = p.next().text
			p.next()
			isOut = true
		}
	}
	expr, err = p.parseOr()
	if err != nil {
		return "", nil, false, err
	}
	if !p.atOp(";") {
		t := p.cur()
		return "", nil, false, parseErrorf(t.line, t.col, t.text, "expected ';'")
	}
	p.next()
	return name, expr, isOut, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "OR", X: left, Y: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "AND", X: left, Y: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.atKeyword("NOT") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (Expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	if p.at(tokOp) {
		switch p.cur().text {
		case "<", ">", "<=", ">=", "=", "==", "!=", "<>":
			op := p.next().text
			right, err := p.parseAdd()
			if err != nil {
				return nil, err
			}
			return &Binary{Op: op, X: left, Y: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdd() (Expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.atOp("+") || p.atOp("-") {
		op := p.next().text
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, X: left, Y: right}
	}
	return left, nil
}

func (p *parser) parseMul() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.atOp("*") || p.atOp("/") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, X: left, Y: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.atOp("+") {
		p.next()
		return p.parseUnary()
	}
	if p.atOp("-") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.typ {
	case tokNumber:
		p.next()
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, parseErrorf(t.line, t.col, t.text, "bad number")
		}
		return &NumberLit{Val: v}, nil

	case tokString:
		p.next()
		return &StringLit{Val: t.text}, nil

	case tokIdent:
		p.next()
		if p.atOp("(") {
			return p.parseCall(t)
		}
		return &Ident{Name: t.text, line: t.line, col: t.col}, nil

	case tokOp:
		if t.text == "(" {
			p.next()
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.atOp(")") {
				c := p.cur()
				return nil, parseErrorf(c.line, c.col, c.text, "expected ')'")
			}
			p.next()
			return x, nil
		}
	}
	return nil, parseErrorf(t.line, t.col, t.text, "expected expression")
}

func (p *parser) parseCall(name token) (Expr, error) {
	p.next() // '('
	var args []Expr
	if !p.atOp(")") {
		for {
			a, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.atOp(",") {
				p.next()
				continue
			}
			break
		}
	}
	if !p.atOp(")") {
		c := p.cur()
		return nil, parseErrorf(c.line, c.col, c.text, "expected ')'")
	}
	p.next()
	return &Call{Name: strings.ToUpper(name.text), Args: args, line: name.line, col: name.col}, nil
}

func (p *parser) cur() token  { return p.toks[p.i] }
func (p *parser) next() token { t := p.toks[p.i]; p.i++; return t }

func (p *parser) at(tt tokenType) bool { return p.toks[p.i].typ == tt }
func (p *parser) atOp(s string) bool {
	return p.toks[p.i].typ == tokOp && p.toks[p.i].text == s
}
func (p *parser) atKeyword(s string) bool {
	return p.toks[p.i].typ == tokKeyword && p.toks[p.i].text == s
}
