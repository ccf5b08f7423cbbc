package tdx

// Expr is one node of a parsed formula expression.
type Expr interface{ exprNode() }

type NumberLit struct {
	Val float64
}

type StringLit struct {
	Val string
}

type Ident struct {
	Name string
	line int
	col  int
}

type Unary struct {
	Op string // "-"
	X  Expr
}

type Binary struct {
	Op string // + - * / < > <= >= = == != <> AND OR
	X  Expr
	Y  Expr
}

type Not struct {
	X Expr
}

type Call struct {
	Name string
	Args []Expr
	line int
	col  int
}

func (*NumberLit) exprNode() {}
func (*StringLit) exprNode() {}
func (*Ident) exprNode()     {}
func (*Unary) exprNode()     {}
func (*Binary) exprNode()    {}
func (*Not) exprNode()       {}
func (*Call) exprNode()      {}

// Stmt is one named assignment. Output statements (NAME : EXPR; or a bare
// boolean expression) are the rule's selection signal.
type Stmt struct {
	Name     string
	Expr     Expr
	IsOutput bool
}

// Formula is one parsed rule file: an ordered list of single-assignment
// statements forming a DAG by construction, plus the name of the output
// column. Immutable after Parse.
type Formula struct {
	Stmts  []Stmt
	Output string
}
