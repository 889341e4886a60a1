package breakpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/coral-mesh/strobe/internal/breakpoint/expr"
	"github.com/coral-mesh/strobe/internal/target"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
	"github.com/coral-mesh/strobe/pkg/resolver"
)

// callEnv evaluates conditions and templates against one intercepted call.
type callEnv struct {
	e    *Engine
	p    *point
	cc   target.CallContext
	hits uint64
}

func (c *callEnv) Arg(i int) (expr.Value, error) {
	v, err := c.cc.Arg(i)
	if err != nil {
		return expr.Value{}, err
	}
	return expr.Int(int64(v)), nil
}

func (c *callEnv) Lookup(name string) (expr.Value, bool, error) {
	switch name {
	case "threadId":
		return expr.Int(int64(c.cc.ThreadID())), true, nil
	case "hitCount":
		return expr.Int(int64(c.hits)), true, nil
	}

	for _, l := range c.p.params {
		if l.Name != name {
			continue
		}
		v, err := c.readLocal(l)
		return v, true, err
	}

	idx := c.e.res.Index()
	v, err := idx.FindVariable(name)
	if errors.Is(err, debuginfo.ErrNotFound) {
		return expr.Value{}, false, nil
	}
	if err != nil {
		return expr.Value{}, true, err
	}
	rec, err := c.e.res.ResolveExpression(name)
	if err != nil {
		return expr.Value{}, true, err
	}
	raw, err := rec.Read(c.e.mem, c.e.cfg.Slide)
	if err != nil {
		return expr.Value{}, true, err
	}
	return toValue(raw, v.Size, v.Type, v.Pointee), true, nil
}

func (c *callEnv) readLocal(l debuginfo.Local) (expr.Value, error) {
	if l.Location.Class != debuginfo.LocationRegister {
		return expr.Value{}, fmt.Errorf("parameter %s: %w", l.Name, debuginfo.ErrOptimizedOut)
	}
	raw, err := c.cc.Register(uint64(l.Location.Register))
	if err != nil {
		return expr.Value{}, fmt.Errorf("parameter %s: %w", l.Name, err)
	}
	return toValue(raw, l.Size, l.Type, l.Pointee), nil
}

func (c *callEnv) Deref(addr uint64) (uint64, error) {
	buf, err := c.e.mem.ReadMemory(addr, 8)
	if err != nil {
		return 0, err
	}
	if len(buf) < 8 {
		return 0, fmt.Errorf("*0x%x: short read of %d bytes: %w", addr, len(buf), target.ErrFault)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (c *callEnv) Member(ptr expr.Value, name string) (expr.Value, error) {
	m, err := c.e.res.Index().Member(ptr.Pointee, name)
	if err != nil {
		return expr.Value{}, err
	}
	if ptr.Int == 0 {
		return expr.Value{}, fmt.Errorf("->%s: %w", name, resolver.ErrNullPointer)
	}
	if !resolver.ValidSize(m.Size) {
		return expr.Value{}, fmt.Errorf("->%s is not a scalar (%d bytes): %w", name, m.Size, debuginfo.ErrTypeMismatch)
	}
	buf, err := c.e.mem.ReadMemory(uint64(ptr.Int)+m.Offset, int(m.Size))
	if err != nil {
		return expr.Value{}, err
	}
	if uint64(len(buf)) < m.Size {
		return expr.Value{}, fmt.Errorf("->%s: short read of %d bytes: %w", name, len(buf), target.ErrFault)
	}
	var full [8]byte
	copy(full[:], buf)
	return toValue(binary.LittleEndian.Uint64(full[:]), m.Size, m.Type, m.Pointee), nil
}

func toValue(raw, size uint64, kind debuginfo.TypeKind, pointee debuginfo.TypeRef) expr.Value {
	switch kind.Kind {
	case debuginfo.KindFloat:
		if size == 4 {
			return expr.Float(float64(math.Float32frombits(uint32(raw))))
		}
		return expr.Float(math.Float64frombits(raw))
	case debuginfo.KindPointer:
		return expr.Pointer(raw, pointee)
	case debuginfo.KindInteger:
		if kind.Signed {
			return expr.Int(debuginfo.SignExtend(raw, size))
		}
	}
	return expr.Int(int64(debuginfo.Truncate(raw, size)))
}
