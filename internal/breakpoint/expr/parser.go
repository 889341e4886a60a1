package expr

import (
	"fmt"
	"strconv"
)

type parser struct {
	toks []token
	pos  int
}

func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(op string) bool {
	if t := p.peek(); t.kind == tokOp && t.text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(op string) error {
	if !p.accept(op) {
		t := p.peek()
		return p.errorf(t, "expected %q, found %s", op, describe(t))
	}
	return nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func describe(t token) string {
	if t.kind == tokEOF {
		return t.kind.String()
	}
	return strconv.Quote(t.text)
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("||") {
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: "||", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.accept("&&") {
		r, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: "&&", l: l, r: r}
	}
	return l, nil
}

var comparisons = []string{"==", "!=", "<=", ">=", "<", ">"}

func (p *parser) parseCmp() (node, error) {
	l, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	for _, op := range comparisons {
		if p.accept(op) {
			r, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			return &binaryNode{op: op, l: l, r: r}, nil
		}
	}
	return l, nil
}

func (p *parser) parseSum() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.accept("+"):
			op = "+"
		case p.accept("-"):
			op = "-"
		default:
			return l, nil
		}
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: op, l: l, r: r}
	}
}

func (p *parser) parseUnary() (node, error) {
	for _, op := range []string{"!", "-", "*"} {
		if p.accept(op) {
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &unaryNode{op: op, x: x}, nil
		}
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if !p.accept("->") {
		return x, nil
	}
	t := p.next()
	if t.kind != tokIdent {
		return nil, p.errorf(t, "expected member name after \"->\", found %s", describe(t))
	}
	if n := p.peek(); n.kind == tokOp && n.text == "->" {
		return nil, p.errorf(n, "only one level of member access is supported")
	}
	return &memberNode{x: x, name: t.text}, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		v, err := strconv.ParseInt(t.text, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(t.text, 0, 64)
			if uerr != nil {
				return nil, p.errorf(t, "integer %s out of range", t.text)
			}
			v = int64(u)
		}
		return &literalNode{value: Int(v)}, nil
	case tokFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "malformed float %s", t.text)
		}
		return &literalNode{value: Float(v)}, nil
	case tokString:
		s, err := strconv.Unquote(t.text)
		if err != nil {
			return nil, p.errorf(t, "malformed string %s", t.text)
		}
		return &literalNode{value: String(s)}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literalNode{value: Bool(true)}, nil
		case "false":
			return &literalNode{value: Bool(false)}, nil
		case "args":
			if p.accept("[") {
				it := p.next()
				if it.kind != tokInt {
					return nil, p.errorf(it, "expected argument index, found %s", describe(it))
				}
				idx, err := strconv.Atoi(it.text)
				if err != nil || idx < 0 {
					return nil, p.errorf(it, "invalid argument index %s", it.text)
				}
				if err := p.expect("]"); err != nil {
					return nil, err
				}
				return &argNode{index: idx}, nil
			}
		}
		return &identNode{name: t.text}, nil
	case tokOp:
		if t.text == "(" {
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	}
	return nil, p.errorf(t, "unexpected %s", describe(t))
}
