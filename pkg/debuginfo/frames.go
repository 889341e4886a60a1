package debuginfo

import (
	"debug/dwarf"
	"fmt"
)

// dwarfFrames implements FrameSource by re-reading a function's children.
type dwarfFrames struct {
	data    *dwarf.Data
	types   *dwarfTypes
	funcDIE map[uint64]dwarf.Offset
}

func (f *dwarfFrames) Parameters(fn FunctionInfo) ([]Local, error) {
	return f.walk(fn, 0, false)
}

func (f *dwarfFrames) Locals(fn FunctionInfo, pc uint64) ([]Local, error) {
	return f.walk(fn, pc, true)
}

func (f *dwarfFrames) walk(fn FunctionInfo, pc uint64, withLocals bool) ([]Local, error) {
	off, ok := f.funcDIE[fn.LowPC]
	if !ok {
		return nil, fmt.Errorf("function %s: %w", fn.Name, ErrNotFound)
	}

	r := f.data.Reader()
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to read function entry: %w", err)
	}
	if e == nil || !e.Children {
		return nil, nil
	}

	var out []Local
	depth := 1
	for depth > 0 {
		c, err := r.Next()
		if err != nil {
			return out, fmt.Errorf("failed to read function children: %w", err)
		}
		if c == nil {
			break
		}
		if c.Tag == 0 {
			depth--
			continue
		}

		switch c.Tag {
		case dwarf.TagFormalParameter:
			if depth == 1 {
				out = append(out, f.local(c, LocalParameter))
			}
		case dwarf.TagVariable:
			if withLocals {
				out = append(out, f.local(c, LocalVariable))
			}
		case dwarf.TagLexDwarfBlock:
			if withLocals && c.Children && f.blockContains(c, pc) {
				depth++
				continue
			}
		}
		if c.Children {
			r.SkipChildren()
		}
	}
	return out, nil
}

func (f *dwarfFrames) blockContains(e *dwarf.Entry, pc uint64) bool {
	ranges, err := f.data.Ranges(e)
	if err != nil {
		return false
	}
	for _, rg := range ranges {
		if pc >= rg[0] && pc < rg[1] {
			return true
		}
	}
	return false
}

func (f *dwarfFrames) local(e *dwarf.Entry, kind LocalKind) Local {
	name, _ := e.Val(dwarf.AttrName).(string)
	typ, hasType := e.Val(dwarf.AttrType).(dwarf.Offset)
	if name == "" || !hasType {
		if origin, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset); ok {
			if oe, err := entryAt(f.data, origin); err == nil {
				if name == "" {
					name, _ = oe.Val(dwarf.AttrName).(string)
				}
				if !hasType {
					typ, hasType = oe.Val(dwarf.AttrType).(dwarf.Offset)
				}
			}
		}
	}

	l := Local{Name: name, Kind: kind}
	if hasType {
		td := f.types.describe(typ)
		l.Size = td.size
		l.Type = td.kind
		l.TypeName = td.name
		l.Pointee = td.pointee
	}

	// Location lists need pc-range evaluation and are reported as optimized out.
	if field := e.AttrField(dwarf.AttrLocation); field != nil && (field.Class == dwarf.ClassExprLoc || field.Class == dwarf.ClassBlock) {
		if expr, ok := field.Val.([]byte); ok {
			if loc, err := parseLocationExpr(expr, f.types.addrSize); err == nil && !loc.needsIndex {
				l.Location = loc
			}
		}
	}
	return l
}
