package tdx

import (
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent
	tokKeyword // AND OR NOT
	tokOp      // + - * / ( ) , < > <= >= <> != == := : ;
)

type token struct {
	typ  tokenType
	text string
	line int
	col  int
}

// lexer turns formula text into a token stream. Identifiers may contain CJK
// characters (rule files name their columns in Chinese). Whitespace, {...}
// blocks and // line comments are skipped.
type lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src), line: 1, col: 1}
}

func (l *lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekAt(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) ||
		unicode.Is(unicode.Han, r)
}

// tokens lexes the whole input, returning a ParseError on any rune that does
// not belong to the grammar. Unsupported syntax is a hard error, never skipped.
func (l *lexer) tokens() ([]token, error) {
	var out []token
	for l.pos < len(l.src) {
		r := l.peek()
		line, col := l.line, l.col

		switch {
		case unicode.IsSpace(r):
			l.advance()

		case r == '{': // brace comment
			l.advance()
			for l.pos < len(l.src) && l.peek() != '}' {
				l.advance()
			}
			if l.pos >= len(l.src) {
				return nil, parseErrorf(line, col, "{", "unterminated comment")
			}
			l.advance()

		case r == '/' && l.peekAt(1) == '/': // line comment
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}

		case r == '\'': // string literal
			l.advance()
			var sb strings.Builder
			for l.pos < len(l.src) && l.peek() != '\'' {
				sb.WriteRune(l.advance())
			}
			if l.pos >= len(l.src) {
				return nil, parseErrorf(line, col, "'", "unterminated string")
			}
			l.advance()
			out = append(out, token{tokString, sb.String(), line, col})

		case unicode.IsDigit(r):
			var sb strings.Builder
			for l.pos < len(l.src) && (unicode.IsDigit(l.peek()) || l.peek() == '.') {
				sb.WriteRune(l.advance())
			}
			out = append(out, token{tokNumber, sb.String(), line, col})

		case isIdentRune(r):
			var sb strings.Builder
			for l.pos < len(l.src) && isIdentRune(l.peek()) {
				sb.WriteRune(l.advance())
			}
			word := sb.String()
			switch strings.ToUpper(word) {
			case "AND", "OR", "NOT":
				out = append(out, token{tokKeyword, strings.ToUpper(word), line, col})
			default:
				out = append(out, token{tokIdent, word, line, col})
			}

		default:
			op := l.lexOp()
			if op == "" {
				return nil, parseErrorf(line, col, string(r), "unexpected character")
			}
			out = append(out, token{tokOp, op, line, col})
		}
	}
	out = append(out, token{tokEOF, "", l.line, l.col})
	return out, nil
}

func (l *lexer) lexOp() string {
	two := ""
	if l.pos+1 < len(l.src) {
		two = string(l.src[l.pos : l.pos+2])
	}
	switch two {
	case "<=", ">=", "<>", "!=", "==", ":=":
		l.advance()
		l.advance()
		return two
	}
	switch l.peek() {
	case '+', '-', '*', '/', '(', ')', ',', '<', '>', ':', ';', '=':
		return string(l.advance())
	}
	return ""
}
