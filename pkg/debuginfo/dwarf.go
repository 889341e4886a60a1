package debuginfo

import (
	"debug/dwarf"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DWARF constants not exported by debug/dwarf.
const (
	attrMIPSLinkageName dwarf.Attr = 0x2007
	tagAtomicType       dwarf.Tag  = 0x47
	tagImmutableType    dwarf.Tag  = 0x4b

	langGo = 0x16

	ateBoolean      = 0x02
	ateFloat        = 0x04
	ateSigned       = 0x05
	ateSignedChar   = 0x06
	ateUnsigned     = 0x07
	ateUnsignedChar = 0x08
	ateUTF          = 0x10

	maxTypeHops  = 16
	maxRefHops   = 4
	maxNameDepth = 8
)

// scope is one enclosing namespace-like entry during the DWARF walk.
type scope struct {
	tag  dwarf.Tag
	name string
}

type dwarfParser struct {
	logger   zerolog.Logger
	data     *dwarf.Data
	img      *image
	types    *dwarfTypes
	addrSize int

	funcs   []FunctionInfo
	vars    []VariableInfo
	funcDIE map[uint64]dwarf.Offset

	cuFiles   []*dwarf.LineFile
	cuIsGo    bool
	goFuncs   int
	otherFunc int
}

// parseDWARF walks every compilation unit once, collecting functions and
// global variables. Lines and struct layouts are left for later.
func parseDWARF(logger zerolog.Logger, data *dwarf.Data, img *image) (Tables, error) {
	p := &dwarfParser{
		logger:  logger,
		data:    data,
		img:     img,
		types:   newDWARFTypes(data, 8),
		funcDIE: make(map[uint64]dwarf.Offset),
	}

	r := data.Reader()
	var stack []scope
	for {
		e, err := r.Next()
		if err != nil {
			return Tables{}, fmt.Errorf("failed to read DWARF entries: %w", err)
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		switch e.Tag {
		case dwarf.TagCompileUnit, dwarf.TagPartialUnit:
			stack = stack[:0]
			p.addrSize = r.AddressSize()
			p.types.addrSize = p.addrSize
			p.enterUnit(e)

		case dwarf.TagSubprogram:
			p.addFunction(e, stack)
			if e.Children {
				r.SkipChildren()
			}
			continue

		case dwarf.TagVariable:
			p.addVariable(e, stack)

		case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType,
			dwarf.TagEnumerationType, dwarf.TagLexDwarfBlock:
			if e.Children {
				r.SkipChildren()
			}
			continue
		}

		if e.Children {
			name, _ := e.Val(dwarf.AttrName).(string)
			if e.Tag == dwarf.TagNamespace && name == "" {
				name = anonNamespace
			}
			stack = append(stack, scope{tag: e.Tag, name: name})
		}
	}

	sep := SeparatorNative
	if p.goFuncs > p.otherFunc {
		sep = SeparatorGo
	}

	return Tables{
		Path:      img.path,
		ImageBase: img.imageBase,
		Arch:      img.arch,
		Separator: sep,
		Functions: p.funcs,
		Variables: p.vars,
		Lines:     p.loadLines,
		Layouts:   p.types,
		Frames:    &dwarfFrames{data: data, types: p.types, funcDIE: p.funcDIE},
		Code:      img.code,
	}, nil
}

func (p *dwarfParser) enterUnit(cu *dwarf.Entry) {
	lang, _ := cu.Val(dwarf.AttrLanguage).(int64)
	p.cuIsGo = lang == langGo
	p.cuFiles = nil
	lr, err := p.data.LineReader(cu)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Skipping unreadable line program header")
		return
	}
	if lr != nil {
		p.cuFiles = lr.Files()
	}
}

func (p *dwarfParser) fileName(e *dwarf.Entry) string {
	idx, ok := e.Val(dwarf.AttrDeclFile).(int64)
	if !ok || idx < 0 || int(idx) >= len(p.cuFiles) || p.cuFiles[idx] == nil {
		return ""
	}
	return p.cuFiles[idx].Name
}

func (p *dwarfParser) qualify(stack []scope, name string) string {
	if p.cuIsGo {
		return name
	}
	var parts []string
	for _, s := range stack {
		switch s.tag {
		case dwarf.TagNamespace, dwarf.TagStructType, dwarf.TagClassType, dwarf.TagModule:
			if s.name != "" {
				parts = append(parts, s.name)
			}
		}
	}
	return strings.Join(append(parts, name), SeparatorNative)
}

// naming is the subset of attributes that may live on a declaration entry
// referenced through DW_AT_specification or DW_AT_abstract_origin.
type naming struct {
	name     string
	linkage  string
	declFile string
	declLine uint32
}

func (p *dwarfParser) names(e *dwarf.Entry, stack []scope) naming {
	n := naming{
		linkage:  linkageName(e),
		declFile: p.fileName(e),
	}
	if l, ok := e.Val(dwarf.AttrDeclLine).(int64); ok {
		n.declLine = uint32(l)
	}
	if name, ok := e.Val(dwarf.AttrName).(string); ok {
		n.name = p.qualify(stack, name)
	}

	ref := e
	for hop := 0; hop < maxRefHops && (n.name == "" || n.linkage == ""); hop++ {
		off, ok := ref.Val(dwarf.AttrSpecification).(dwarf.Offset)
		if !ok {
			off, ok = ref.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
		}
		if !ok {
			break
		}
		next, err := entryAt(p.data, off)
		if err != nil {
			break
		}
		if n.linkage == "" {
			n.linkage = linkageName(next)
		}
		if n.name == "" {
			if name, ok := next.Val(dwarf.AttrName).(string); ok {
				n.name = name
			}
		}
		if n.declLine == 0 {
			if l, ok := next.Val(dwarf.AttrDeclLine).(int64); ok {
				n.declLine = uint32(l)
			}
		}
		ref = next
	}

	if n.linkage != "" {
		if d := Demangle(n.linkage); d != n.linkage {
			n.name = d
		} else if n.name == "" {
			n.name = n.linkage
		}
	}
	return n
}

func linkageName(e *dwarf.Entry) string {
	if s, ok := e.Val(dwarf.AttrLinkageName).(string); ok {
		return s
	}
	if s, ok := e.Val(attrMIPSLinkageName).(string); ok {
		return s
	}
	return ""
}

func (p *dwarfParser) addFunction(e *dwarf.Entry, stack []scope) {
	low, high, ok := p.pcRange(e)
	if !ok || low == 0 || high <= low {
		return
	}

	n := p.names(e, stack)
	if n.name == "" {
		return
	}

	if p.cuIsGo {
		p.goFuncs++
	} else {
		p.otherFunc++
	}

	raw := n.linkage
	if raw == "" {
		raw = n.name
	}
	p.funcs = append(p.funcs, FunctionInfo{
		Name:    n.name,
		RawName: raw,
		LowPC:   low,
		HighPC:  high,
		File:    n.declFile,
		Line:    n.declLine,
	})
	p.funcDIE[low] = e.Offset
}

func (p *dwarfParser) pcRange(e *dwarf.Entry) (uint64, uint64, bool) {
	if low, ok := e.Val(dwarf.AttrLowpc).(uint64); ok {
		f := e.AttrField(dwarf.AttrHighpc)
		if f == nil {
			return 0, 0, false
		}
		switch v := f.Val.(type) {
		case uint64:
			if f.Class == dwarf.ClassAddress {
				return low, v, true
			}
			return low, low + v, true
		case int64:
			return low, low + uint64(v), true
		}
		return 0, 0, false
	}

	ranges, err := p.data.Ranges(e)
	if err != nil || len(ranges) == 0 {
		return 0, 0, false
	}
	low, high := ranges[0][0], ranges[0][1]
	for _, r := range ranges[1:] {
		if r[1] > high {
			high = r[1]
		}
	}
	return low, high, true
}

func (p *dwarfParser) addVariable(e *dwarf.Entry, stack []scope) {
	locField := e.AttrField(dwarf.AttrLocation)
	if decl, _ := e.Val(dwarf.AttrDeclaration).(bool); decl && locField == nil {
		return
	}

	n := p.names(e, stack)
	if n.name == "" {
		return
	}
	raw := n.linkage
	if raw == "" {
		raw = n.name
	}

	var loc Location
	if locField != nil {
		if expr, ok := locField.Val.([]byte); ok {
			parsed, err := parseLocationExpr(expr, p.addrSize)
			if err == nil {
				loc = parsed
			}
		}
	}
	if loc.needsIndex {
		// debug/dwarf does not expose .debug_addr; fall back to the symbol table.
		addr, ok := p.img.symbols[raw]
		if !ok {
			addr, ok = p.img.symbols[n.name]
		}
		loc = Location{}
		if ok {
			loc = Location{Class: LocationStatic, Address: addr}
		}
	}
	if loc.Class != LocationStatic {
		// Globals only ever live at static addresses.
		loc = Location{}
	}

	var td typeDesc
	if off, ok := e.Val(dwarf.AttrType).(dwarf.Offset); ok {
		td = p.types.describe(off)
	}

	p.vars = append(p.vars, VariableInfo{
		Name:     n.name,
		RawName:  raw,
		Address:  loc.Address,
		Size:     td.size,
		Type:     td.kind,
		TypeName: td.name,
		File:     n.declFile,
		Location: loc,
		Pointee:  td.pointee,
	})
}

func (p *dwarfParser) loadLines() ([]LineEntry, error) {
	var out []LineEntry
	r := p.data.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read compilation units: %w", err)
		}
		if e == nil {
			break
		}
		if e.Tag != dwarf.TagCompileUnit && e.Tag != dwarf.TagPartialUnit {
			continue
		}
		r.SkipChildren()

		lr, err := p.data.LineReader(e)
		if err != nil {
			p.logger.Debug().Err(err).Msg("Skipping unreadable line program")
			continue
		}
		if lr == nil {
			continue
		}

		var le dwarf.LineEntry
		for {
			if err := lr.Next(&le); err != nil {
				if !errors.Is(err, io.EOF) {
					p.logger.Debug().Err(err).Msg("Truncated line program")
				}
				break
			}
			if le.EndSequence {
				continue
			}
			file := ""
			if le.File != nil {
				file = le.File.Name
			}
			out = append(out, LineEntry{
				Address:     le.Address,
				File:        file,
				Line:        uint32(le.Line),
				Column:      uint32(le.Column),
				IsStatement: le.IsStmt,
			})
		}
	}
	return out, nil
}

func entryAt(data *dwarf.Data, off dwarf.Offset) (*dwarf.Entry, error) {
	r := data.Reader()
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("no DWARF entry at 0x%x", off)
	}
	return e, nil
}

// typeDesc is the flattened view of a type chain.
type typeDesc struct {
	kind    TypeKind
	size    uint64
	name    string
	pointee TypeRef
}

// dwarfTypes resolves types on demand by seeking to their entries.
type dwarfTypes struct {
	data     *dwarf.Data
	addrSize int

	mu    sync.Mutex
	cache map[dwarf.Offset]typeDesc

	defsOnce sync.Once
	defs     map[string]dwarf.Offset
}

func newDWARFTypes(data *dwarf.Data, addrSize int) *dwarfTypes {
	return &dwarfTypes{
		data:     data,
		addrSize: addrSize,
		cache:    make(map[dwarf.Offset]typeDesc),
	}
}

func (t *dwarfTypes) describe(off dwarf.Offset) typeDesc {
	t.mu.Lock()
	td, ok := t.cache[off]
	t.mu.Unlock()
	if ok {
		return td
	}
	td = t.describeAt(off, 0)
	t.mu.Lock()
	t.cache[off] = td
	t.mu.Unlock()
	return td
}

func (t *dwarfTypes) describeAt(off dwarf.Offset, depth int) typeDesc {
	var td typeDesc
	if depth > maxNameDepth {
		td.name = "?"
		return td
	}

	for hop := 0; hop < maxTypeHops; hop++ {
		e, err := entryAt(t.data, off)
		if err != nil {
			return td
		}
		name, _ := e.Val(dwarf.AttrName).(string)
		next, hasNext := e.Val(dwarf.AttrType).(dwarf.Offset)

		switch e.Tag {
		case dwarf.TagTypedef, dwarf.TagConstType, dwarf.TagVolatileType,
			dwarf.TagRestrictType, tagAtomicType, tagImmutableType:
			if td.name == "" && name != "" {
				td.name = name
			}
			if !hasNext {
				if td.name == "" {
					td.name = "void"
				}
				return td
			}
			off = next

		case dwarf.TagBaseType:
			enc, _ := e.Val(dwarf.AttrEncoding).(int64)
			td.kind = baseKind(enc)
			td.size = byteSize(e)
			if td.name == "" {
				td.name = name
			}
			return td

		case dwarf.TagPointerType, dwarf.TagReferenceType, dwarf.TagRvalueReferenceType:
			td.kind = PointerType
			td.size = byteSize(e)
			if td.size == 0 {
				td.size = uint64(t.addrSize)
			}
			if hasNext {
				td.pointee = TypeRef(next)
			}
			if td.name == "" {
				td.name = name
			}
			if td.name == "" {
				inner := "void"
				if hasNext {
					inner = t.describeAt(next, depth+1).name
				}
				td.name = inner + "*"
			}
			return td

		case dwarf.TagEnumerationType:
			td.kind = UnsignedType
			td.size = byteSize(e)
			if td.name == "" {
				td.name = name
			}
			return td

		case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType:
			if td.name == "" {
				td.name = name
			}
			size := byteSize(e)
			if inner, ok := t.newtypeMember(e, size); ok {
				off = inner
				continue
			}
			td.kind = UnknownType
			td.size = size
			return td

		default:
			if td.name == "" {
				td.name = name
			}
			td.size = byteSize(e)
			return td
		}
	}
	return td
}

func baseKind(enc int64) TypeKind {
	switch enc {
	case ateFloat:
		return FloatType
	case ateSigned, ateSignedChar:
		return SignedType
	case ateUnsigned, ateUnsignedChar, ateBoolean, ateUTF:
		return UnsignedType
	default:
		return UnknownType
	}
}

func byteSize(e *dwarf.Entry) uint64 {
	switch v := e.Val(dwarf.AttrByteSize).(type) {
	case int64:
		return uint64(v)
	case uint64:
		return v
	}
	return 0
}

// newtypeMember reports the member type of a struct that wraps exactly one
// member at offset zero spanning the whole struct.
func (t *dwarfTypes) newtypeMember(e *dwarf.Entry, size uint64) (dwarf.Offset, bool) {
	if !e.Children || size == 0 {
		return 0, false
	}
	members, err := t.readMembers(e.Offset)
	if err != nil || len(members) != 1 {
		return 0, false
	}
	m := members[0]
	if m.offset != 0 || m.typ == 0 {
		return 0, false
	}
	if inner := t.describeAt(m.typ, maxNameDepth); inner.size != size {
		return 0, false
	}
	return m.typ, true
}

type rawMember struct {
	name   string
	offset uint64
	typ    dwarf.Offset
}

func (t *dwarfTypes) readMembers(structOff dwarf.Offset) ([]rawMember, error) {
	r := t.data.Reader()
	r.Seek(structOff)
	e, err := r.Next()
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("no DWARF entry at 0x%x", structOff)
	}
	if !e.Children {
		return nil, nil
	}

	var out []rawMember
	for {
		c, err := r.Next()
		if err != nil {
			return nil, err
		}
		if c == nil || c.Tag == 0 {
			break
		}
		if c.Tag == dwarf.TagMember {
			decl, _ := c.Val(dwarf.AttrDeclaration).(bool)
			external, _ := c.Val(dwarf.AttrExternal).(bool)
			if !decl && !external {
				name, _ := c.Val(dwarf.AttrName).(string)
				typ, _ := c.Val(dwarf.AttrType).(dwarf.Offset)
				out = append(out, rawMember{name: name, offset: memberOffset(c), typ: typ})
			}
		}
		if c.Children {
			r.SkipChildren()
		}
	}
	return out, nil
}

func memberOffset(e *dwarf.Entry) uint64 {
	switch v := e.Val(dwarf.AttrDataMemberLoc).(type) {
	case int64:
		return uint64(v)
	case uint64:
		return v
	case []byte:
		// DWARF 2 style: DW_OP_plus_uconst <uleb>.
		if len(v) > 1 && v[0] == opPlusUconst {
			off, n := decodeULEB128(v[1:])
			if n > 0 {
				return off
			}
		}
	}
	return 0
}

// StructMembers implements LayoutSource.
func (t *dwarfTypes) StructMembers(ref TypeRef) ([]StructMember, error) {
	off, err := t.structEntry(dwarf.Offset(ref))
	if err != nil {
		return nil, err
	}
	raw, err := t.readMembers(off)
	if err != nil {
		return nil, fmt.Errorf("failed to read members: %w", err)
	}

	members := make([]StructMember, 0, len(raw))
	for _, m := range raw {
		var td typeDesc
		if m.typ != 0 {
			td = t.describe(m.typ)
		}
		members = append(members, StructMember{
			Name:      m.name,
			Offset:    m.offset,
			Size:      td.size,
			Type:      td.kind,
			TypeName:  td.name,
			IsPointer: td.kind.Kind == KindPointer,
			Pointee:   td.pointee,
		})
	}
	return members, nil
}

// structEntry follows qualifiers and typedefs from off to a struct definition,
// looking up the full definition when off is only a forward declaration.
func (t *dwarfTypes) structEntry(off dwarf.Offset) (dwarf.Offset, error) {
	for hop := 0; hop < maxTypeHops; hop++ {
		e, err := entryAt(t.data, off)
		if err != nil {
			return 0, fmt.Errorf("%v: %w", err, ErrMissingLayout)
		}
		switch e.Tag {
		case dwarf.TagTypedef, dwarf.TagConstType, dwarf.TagVolatileType,
			dwarf.TagRestrictType, tagAtomicType, tagImmutableType:
			next, ok := e.Val(dwarf.AttrType).(dwarf.Offset)
			if !ok {
				return 0, fmt.Errorf("void type: %w", ErrMissingLayout)
			}
			off = next

		case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType:
			decl, _ := e.Val(dwarf.AttrDeclaration).(bool)
			if !decl {
				return off, nil
			}
			name, _ := e.Val(dwarf.AttrName).(string)
			if def, ok := t.definition(name); ok {
				return def, nil
			}
			return 0, fmt.Errorf("struct %s is only declared: %w", name, ErrMissingLayout)

		default:
			return 0, fmt.Errorf("%s is not a struct: %w", e.Tag, ErrMissingLayout)
		}
	}
	return 0, fmt.Errorf("type chain too deep: %w", ErrMissingLayout)
}

// definition finds a complete struct definition by name. The name table is
// built on the first forward declaration encountered.
func (t *dwarfTypes) definition(name string) (dwarf.Offset, bool) {
	if name == "" {
		return 0, false
	}
	t.defsOnce.Do(func() {
		t.defs = make(map[string]dwarf.Offset)
		r := t.data.Reader()
		for {
			e, err := r.Next()
			if err != nil || e == nil {
				return
			}
			switch e.Tag {
			case dwarf.TagStructType, dwarf.TagClassType, dwarf.TagUnionType:
				decl, _ := e.Val(dwarf.AttrDeclaration).(bool)
				n, _ := e.Val(dwarf.AttrName).(string)
				if !decl && n != "" {
					if _, exists := t.defs[n]; !exists {
						t.defs[n] = e.Offset
					}
				}
				if e.Children {
					r.SkipChildren()
				}
			case dwarf.TagSubprogram:
				if e.Children {
					r.SkipChildren()
				}
			}
		}
	})
	off, ok := t.defs[name]
	return off, ok
}
