package tdx

import (
	"errors"
	"fmt"
)

// Sentinel errors of the evaluation engine. ParseError and the function /
// reference errors are fatal to loading a rule; ErrInsufficientHistory is
// per-symbol and excludes only that symbol from a run.
var (
	ErrUnknownFunction     = errors.New("unknown function")
	ErrUnknownIdentifier   = errors.New("unknown identifier")
	ErrCyclicReference     = errors.New("name used before definition")
	ErrInsufficientHistory = errors.New("insufficient history")
)

// ParseError reports malformed formula text with the offending token and its
// position in the source.
type ParseError struct {
	Line  int
	Col   int
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("parse error at %d:%d near %q: %s", e.Line, e.Col, e.Token, e.Msg)
}

func parseErrorf(line, col int, token, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Col: col, Token: token, Msg: fmt.Sprintf(format, args...)}
}
