package uprobe

import (
	"fmt"

	"github.com/coral-mesh/strobe/internal/target"
)

// callContext is a target.CallContext over one record.
type callContext struct {
	rec   record
	addr  uint64
	entry bool
	regs  regLayout
}

func (c *callContext) ThreadID() uint64 { return c.rec.tid() }

func (c *callContext) Address() uint64 { return c.addr }

func (c *callContext) Arg(i int) (uint64, error) {
	if i < 0 || i >= numArgs {
		return 0, fmt.Errorf("argument %d: %w", i, target.ErrUnavailable)
	}
	return c.rec.fields[fieldArg0+i], nil
}

func (c *callContext) Register(reg uint64) (uint64, error) {
	field, ok := c.regs.dwarf[reg]
	if !ok {
		return 0, fmt.Errorf("register %d: %w", reg, target.ErrUnavailable)
	}
	return c.rec.fields[field], nil
}

// ReturnAddress is only known at function entry. Past the prologue the
// recorded stack slot holds whatever the function pushed last.
func (c *callContext) ReturnAddress() (uint64, error) {
	ret := c.rec.fields[fieldReturn]
	if !c.entry || ret == 0 {
		return 0, fmt.Errorf("return address: %w", target.ErrUnavailable)
	}
	return ret, nil
}
