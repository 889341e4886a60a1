package expr

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax matches every *SyntaxError.
	ErrSyntax = errors.New("syntax error")
	// ErrConditionEval matches every *EvalError.
	ErrConditionEval = errors.New("condition evaluation failed")
)

// SyntaxError reports a malformed expression or template.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// Is makes errors.Is(err, ErrSyntax) hold.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// EvalError reports an expression that failed against live values.
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConditionEval) hold.
func (e *EvalError) Is(target error) bool {
	return target == ErrConditionEval
}
