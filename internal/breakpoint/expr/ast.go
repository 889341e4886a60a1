package expr

import (
	"fmt"
)

// node is a tagged expression tree node.
type node interface {
	String() string
}

type argNode struct{ index int }

type identNode struct{ name string }

type literalNode struct{ value Value }

type unaryNode struct {
	op string
	x  node
}

type binaryNode struct {
	op   string
	l, r node
}

type memberNode struct {
	x    node
	name string
}

func (n *argNode) String() string     { return fmt.Sprintf("args[%d]", n.index) }
func (n *identNode) String() string   { return n.name }
func (n *literalNode) String() string { return n.value.Quoted() }
func (n *unaryNode) String() string   { return n.op + n.x.String() }
func (n *binaryNode) String() string  { return "(" + n.l.String() + " " + n.op + " " + n.r.String() + ")" }
func (n *memberNode) String() string  { return n.x.String() + "->" + n.name }
