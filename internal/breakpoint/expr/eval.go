package expr

import (
	"errors"
	"fmt"
	"strings"

	strobeerrors "github.com/coral-mesh/strobe/internal/errors"
)

// Env supplies the live values an expression reads. Implementations read
// registers and target memory for the thread that hit the probe.
type Env interface {
	// Arg returns the i-th integer argument register.
	Arg(i int) (Value, error)
	// Lookup resolves a bare identifier. ok is false for unknown names.
	Lookup(name string) (v Value, ok bool, err error)
	// Deref reads the pointer-sized word at addr.
	Deref(addr uint64) (uint64, error)
	// Member reads field name of the struct ptr points at.
	Member(ptr Value, name string) (Value, error)
}

var (
	errUnknownIdent = errors.New("unknown identifier")
	errType         = errors.New("type mismatch")
)

// Program is a compiled expression, safe for concurrent evaluation.
type Program struct {
	src  string
	root node
}

// Compile parses src. Errors match ErrSyntax.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Msg: "empty expression"}
	}
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{src: src, root: root}, nil
}

// MustCompile is Compile that panics, for fixed expressions in tests.
func MustCompile(src string) *Program {
	p, err := Compile(src)
	strobeerrors.Must(err, "compile "+src)
	return p
}

// Source returns the text the program was compiled from.
func (p *Program) Source() string { return p.src }

// String returns the fully parenthesized form.
func (p *Program) String() string { return p.root.String() }

// Eval evaluates the program. Errors match ErrConditionEval.
func (p *Program) Eval(env Env) (Value, error) {
	v, err := eval(p.root, env)
	if err != nil {
		return Value{}, &EvalError{Expr: p.src, Err: err}
	}
	return v, nil
}

// EvalBool evaluates the program as a condition.
func (p *Program) EvalBool(env Env) (bool, error) {
	v, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	b, err := v.Truthy()
	if err != nil {
		return false, &EvalError{Expr: p.src, Err: err}
	}
	return b, nil
}

func eval(n node, env Env) (Value, error) {
	switch n := n.(type) {
	case *literalNode:
		return n.value, nil
	case *argNode:
		return env.Arg(n.index)
	case *identNode:
		v, ok, err := env.Lookup(n.name)
		if err != nil {
			return Value{}, err
		}
		if !ok {
			return Value{}, fmt.Errorf("%w %q", errUnknownIdent, n.name)
		}
		return v, nil
	case *memberNode:
		x, err := eval(n.x, env)
		if err != nil {
			return Value{}, err
		}
		if !x.Pointer {
			return Value{}, fmt.Errorf("%w: %s is not a pointer", errType, n.x)
		}
		return env.Member(x, n.name)
	case *unaryNode:
		return evalUnary(n, env)
	case *binaryNode:
		return evalBinary(n, env)
	}
	return Value{}, fmt.Errorf("unhandled node %T", n)
}

func evalUnary(n *unaryNode, env Env) (Value, error) {
	x, err := eval(n.x, env)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case "!":
		b, err := x.Truthy()
		if err != nil {
			return Value{}, err
		}
		return Bool(!b), nil
	case "-":
		switch x.Kind {
		case KindInt:
			return Int(-x.Int), nil
		case KindFloat:
			return Float(-x.Float), nil
		}
		return Value{}, fmt.Errorf("%w: cannot negate %s", errType, x.Kind)
	case "*":
		if x.Kind != KindInt {
			return Value{}, fmt.Errorf("%w: cannot dereference %s", errType, x.Kind)
		}
		w, err := env.Deref(uint64(x.Int))
		if err != nil {
			return Value{}, err
		}
		return Int(int64(w)), nil
	}
	return Value{}, fmt.Errorf("unknown operator %q", n.op)
}

func evalBinary(n *binaryNode, env Env) (Value, error) {
	l, err := eval(n.l, env)
	if err != nil {
		return Value{}, err
	}

	if n.op == "&&" || n.op == "||" {
		lb, err := l.Truthy()
		if err != nil {
			return Value{}, err
		}
		if (n.op == "&&" && !lb) || (n.op == "||" && lb) {
			return Bool(lb), nil
		}
		r, err := eval(n.r, env)
		if err != nil {
			return Value{}, err
		}
		rb, err := r.Truthy()
		if err != nil {
			return Value{}, err
		}
		return Bool(rb), nil
	}

	r, err := eval(n.r, env)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case "+", "-":
		return arith(n.op, l, r)
	default:
		return compare(n.op, l, r)
	}
}

func arith(op string, l, r Value) (Value, error) {
	if !l.numeric() || !r.numeric() {
		return Value{}, fmt.Errorf("%w: %s %s %s", errType, l.Kind, op, r.Kind)
	}
	if l.Kind == KindInt && r.Kind == KindInt {
		if op == "+" {
			return Int(l.Int + r.Int), nil
		}
		return Int(l.Int - r.Int), nil
	}
	if op == "+" {
		return Float(l.asFloat() + r.asFloat()), nil
	}
	return Float(l.asFloat() - r.asFloat()), nil
}

func compare(op string, l, r Value) (Value, error) {
	var c int
	switch {
	case l.numeric() && r.numeric():
		if l.Kind == KindInt && r.Kind == KindInt {
			c = cmp3(l.Int, r.Int)
		} else {
			c = cmp3(l.asFloat(), r.asFloat())
		}
	case l.Kind == KindString && r.Kind == KindString:
		c = strings.Compare(l.Str, r.Str)
	case l.Kind == KindBool && r.Kind == KindBool:
		if op != "==" && op != "!=" {
			return Value{}, fmt.Errorf("%w: bool %s bool", errType, op)
		}
		if l.Bool != r.Bool {
			c = 1
		}
	default:
		return Value{}, fmt.Errorf("%w: %s %s %s", errType, l.Kind, op, r.Kind)
	}

	switch op {
	case "==":
		return Bool(c == 0), nil
	case "!=":
		return Bool(c != 0), nil
	case "<":
		return Bool(c < 0), nil
	case "<=":
		return Bool(c <= 0), nil
	case ">":
		return Bool(c > 0), nil
	case ">=":
		return Bool(c >= 0), nil
	}
	return Value{}, fmt.Errorf("unknown operator %q", op)
}

func cmp3[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
