package debuginfo

import "fmt"

// Kind is the coarse classification of a value type used when formatting raw
// sampled bits.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInteger
	KindFloat
	KindPointer
)

// TypeKind describes how the bits of a watched value should be interpreted.
type TypeKind struct {
	Kind   Kind
	Signed bool // Only meaningful for KindInteger.
}

var (
	UnknownType  = TypeKind{Kind: KindUnknown}
	SignedType   = TypeKind{Kind: KindInteger, Signed: true}
	UnsignedType = TypeKind{Kind: KindInteger}
	FloatType    = TypeKind{Kind: KindFloat}
	PointerType  = TypeKind{Kind: KindPointer}
)

// String returns the short name used in events and CLI output.
func (t TypeKind) String() string {
	switch t.Kind {
	case KindInteger:
		if t.Signed {
			return "int"
		}
		return "uint"
	case KindFloat:
		return "float"
	case KindPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// TypeRef identifies a type entry in the debug info. The zero value means
// "no type" (for example the pointee of a void pointer).
type TypeRef uint64

// NoType is the zero TypeRef.
const NoType TypeRef = 0

// FunctionInfo is one function from the debug info. Addresses are file
// addresses; add the image slide to get runtime addresses.
type FunctionInfo struct {
	Name    string `json:"name"`
	RawName string `json:"raw_name,omitempty"`
	LowPC   uint64 `json:"low_pc"`
	HighPC  uint64 `json:"high_pc"`
	File    string `json:"file,omitempty"`
	Line    uint32 `json:"line,omitempty"`
}

// Size returns the length of the function's code in bytes.
func (f FunctionInfo) Size() uint64 {
	if f.HighPC < f.LowPC {
		return 0
	}
	return f.HighPC - f.LowPC
}

// Contains reports whether addr lies in [LowPC, HighPC).
func (f FunctionInfo) Contains(addr uint64) bool {
	return addr >= f.LowPC && addr < f.HighPC
}

// VariableInfo is one global variable.
type VariableInfo struct {
	Name      string   `json:"name"`
	RawName   string   `json:"raw_name,omitempty"`
	ShortName string   `json:"short_name,omitempty"`
	Address   uint64   `json:"address"`
	Size      uint64   `json:"size"`
	Type      TypeKind `json:"-"`
	TypeName  string   `json:"type_name,omitempty"`
	File      string   `json:"file,omitempty"`
	Location  Location `json:"-"`

	// Pointee is the type a pointer-typed variable refers to.
	Pointee TypeRef `json:"-"`
}

// IsPointer reports whether the variable holds a pointer.
func (v VariableInfo) IsPointer() bool {
	return v.Type.Kind == KindPointer
}

// LineEntry is one row of the line table.
type LineEntry struct {
	Address     uint64 `json:"address"`
	File        string `json:"file"`
	Line        uint32 `json:"line"`
	Column      uint32 `json:"column,omitempty"`
	IsStatement bool   `json:"is_statement"`
}

// String formats the entry as file:line.
func (e LineEntry) String() string {
	return fmt.Sprintf("%s:%d", e.File, e.Line)
}

// StructMember is one data member of a struct layout.
type StructMember struct {
	Name      string         `json:"name"`
	Offset    uint64         `json:"offset"`
	Size      uint64         `json:"size"`
	Type      TypeKind       `json:"-"`
	TypeName  string         `json:"type_name,omitempty"`
	IsPointer bool           `json:"is_pointer,omitempty"`
	Pointee   TypeRef        `json:"-"`
	Members   []StructMember `json:"members,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

// LocalKind distinguishes parameters from local variables.
type LocalKind uint8

const (
	LocalVariable LocalKind = iota
	LocalParameter
)

// Local is a parameter or local variable visible at some pc.
type Local struct {
	Name     string
	Kind     LocalKind
	Size     uint64
	Type     TypeKind
	TypeName string
	Pointee  TypeRef
	Location Location
}
