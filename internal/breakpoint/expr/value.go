package expr

import (
	"fmt"
	"strconv"

	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// Kind is the dynamic type of a Value.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	}
	return "unknown"
}

// Value is the result of evaluating an expression. Integers that came from
// a pointer-typed parameter or member keep the pointee type so "->" can
// follow them.
type Value struct {
	Kind    Kind
	Int     int64
	Float   float64
	Bool    bool
	Str     string
	Pointer bool
	Pointee debuginfo.TypeRef
}

// Int returns an integer value.
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

// Float returns a float value.
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// String returns a string value.
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// Pointer returns an address that "->" can follow into pointee.
func Pointer(addr uint64, pointee debuginfo.TypeRef) Value {
	return Value{Kind: KindInt, Int: int64(addr), Pointer: true, Pointee: pointee}
}

// String formats v for templates.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		if v.Pointer {
			return fmt.Sprintf("0x%x", uint64(v.Int))
		}
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	}
	return "?"
}

// Quoted renders v as it would appear in source.
func (v Value) Quoted() string {
	if v.Kind == KindString {
		return strconv.Quote(v.Str)
	}
	return v.String()
}

// Truthy converts v to a condition result. Numbers are true when nonzero.
func (v Value) Truthy() (bool, error) {
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindInt:
		return v.Int != 0, nil
	case KindFloat:
		return v.Float != 0, nil
	}
	return false, fmt.Errorf("%s is not a condition", v.Kind)
}

func (v Value) numeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

func (v Value) asFloat() float64 {
	if v.Kind == KindFloat {
		return v.Float
	}
	return float64(v.Int)
}
