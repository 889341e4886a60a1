package expr

import (
	"errors"
	"strings"
)

// Template is a logpoint message: literal text with {expr} placeholders.
// "{{" and "}}" produce literal braces.
type Template struct {
	src   string
	parts []templatePart
}

type templatePart struct {
	text string
	prog *Program
}

// CompileTemplate parses src. Unbalanced braces and malformed placeholders
// fail with ErrSyntax.
func CompileTemplate(src string) (*Template, error) {
	t := &Template{src: src}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.parts = append(t.parts, templatePart{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '{' && i+1 < len(src) && src[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(src) && src[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '}':
			return nil, &SyntaxError{Pos: i, Msg: "unmatched '}'"}
		case c == '{':
			end := strings.IndexByte(src[i+1:], '}')
			if end < 0 {
				return nil, &SyntaxError{Pos: i, Msg: "unterminated placeholder"}
			}
			body := src[i+1 : i+1+end]
			prog, err := Compile(body)
			if err != nil {
				var se *SyntaxError
				if errors.As(err, &se) {
					return nil, &SyntaxError{Pos: i + 1 + se.Pos, Msg: se.Msg}
				}
				return nil, err
			}
			flush()
			t.parts = append(t.parts, templatePart{prog: prog})
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// Source returns the uncompiled template.
func (t *Template) Source() string { return t.src }

// Render evaluates every placeholder. A failing placeholder renders as
// "<error: ...>" and the first such error is returned with the message.
func (t *Template) Render(env Env) (string, error) {
	var (
		b     strings.Builder
		first error
	)
	for _, p := range t.parts {
		if p.prog == nil {
			b.WriteString(p.text)
			continue
		}
		v, err := p.prog.Eval(env)
		if err != nil {
			if first == nil {
				first = err
			}
			b.WriteString("<error: ")
			b.WriteString(errorCause(err))
			b.WriteString(">")
			continue
		}
		b.WriteString(v.String())
	}
	return b.String(), first
}

func errorCause(err error) string {
	if ee, ok := err.(*EvalError); ok {
		return ee.Err.Error()
	}
	return err.Error()
}
