// Package debuginfotest provides hand-built debug-info indexes for tests.
//
// The fixture models a small C++ program:
//
//	engine.cpp   audio::process_buffer   0x1000-0x1100  lines 10-16
//	             audio::mix              0x1100-0x1200  lines 40-42
//	             audio::Inner::process   0x1200-0x1300
//	handler.cpp  midi::process_note_on   0x2000-0x2100  lines 5-7
//	main.cpp     main                    0x3000-0x3100  lines 98, 102, 105, 110
//
// and the globals gCounter (int32), gTempo (double), gFlags (uint16),
// gPointPtr (Point*), gNodePtr (Node*), gGamePtr (Game*), gOpaque (Opaque*),
// gOptimized (no location) and audio::gBuffer (uint64).
package debuginfotest

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// Type references used by the fixture layouts.
const (
	PointType  debuginfo.TypeRef = 100
	NodeType   debuginfo.TypeRef = 200
	GameType   debuginfo.TypeRef = 300
	PlayerType debuginfo.TypeRef = 400
	OpaqueType debuginfo.TypeRef = 500
)

// Function entry points.
const (
	ProcessBuffer uint64 = 0x1000
	Mix           uint64 = 0x1100
	InnerProcess  uint64 = 0x1200
	NoteOn        uint64 = 0x2000
	Main          uint64 = 0x3000
)

// Global addresses.
const (
	CounterAddr  uint64 = 0x5000
	TempoAddr    uint64 = 0x5008
	FlagsAddr    uint64 = 0x5010
	PointPtrAddr uint64 = 0x5018
	NodePtrAddr  uint64 = 0x5020
	GamePtrAddr  uint64 = 0x5028
	OpaqueAddr   uint64 = 0x5030
	BufferAddr   uint64 = 0x5038
)

// StaticLayouts is a LayoutSource backed by a map.
type StaticLayouts map[debuginfo.TypeRef][]debuginfo.StructMember

// StructMembers implements debuginfo.LayoutSource.
func (s StaticLayouts) StructMembers(ref debuginfo.TypeRef) ([]debuginfo.StructMember, error) {
	members, ok := s[ref]
	if !ok {
		return nil, fmt.Errorf("type 0x%x: %w", uint64(ref), debuginfo.ErrMissingLayout)
	}
	return members, nil
}

// StaticFrames is a FrameSource keyed by function entry.
type StaticFrames map[uint64][]debuginfo.Local

// Parameters implements debuginfo.FrameSource.
func (s StaticFrames) Parameters(fn debuginfo.FunctionInfo) ([]debuginfo.Local, error) {
	var out []debuginfo.Local
	for _, l := range s[fn.LowPC] {
		if l.Kind == debuginfo.LocalParameter {
			out = append(out, l)
		}
	}
	return out, nil
}

// Locals implements debuginfo.FrameSource.
func (s StaticFrames) Locals(fn debuginfo.FunctionInfo, _ uint64) ([]debuginfo.Local, error) {
	return s[fn.LowPC], nil
}

// StaticCode is a CodeReader over a byte slice starting at Base.
type StaticCode struct {
	Base uint64
	Data []byte
}

// ReadCode implements debuginfo.CodeReader.
func (c StaticCode) ReadCode(addr uint64, size int) ([]byte, error) {
	if addr < c.Base || addr >= c.Base+uint64(len(c.Data)) {
		return nil, fmt.Errorf("address 0x%x out of range", addr)
	}
	start := addr - c.Base
	end := start + uint64(size)
	if end > uint64(len(c.Data)) {
		end = uint64(len(c.Data))
	}
	return c.Data[start:end], nil
}

func member(name string, off, size uint64, kind debuginfo.TypeKind, typeName string) debuginfo.StructMember {
	return debuginfo.StructMember{Name: name, Offset: off, Size: size, Type: kind, TypeName: typeName}
}

func pointerMember(name string, off uint64, pointee debuginfo.TypeRef, typeName string) debuginfo.StructMember {
	return debuginfo.StructMember{
		Name: name, Offset: off, Size: 8, Type: debuginfo.PointerType,
		TypeName: typeName, IsPointer: true, Pointee: pointee,
	}
}

// Layouts returns the fixture's struct layouts.
func Layouts() StaticLayouts {
	return StaticLayouts{
		PointType: {
			member("x", 0, 4, debuginfo.SignedType, "int32_t"),
			member("y", 4, 4, debuginfo.SignedType, "int32_t"),
			member("value", 8, 8, debuginfo.FloatType, "double"),
		},
		NodeType: {
			member("value", 0, 4, debuginfo.SignedType, "int"),
			pointerMember("next", 8, NodeType, "Node*"),
		},
		GameType: {
			member("score", 0, 4, debuginfo.UnsignedType, "uint32_t"),
			pointerMember("player", 8, PlayerType, "Player*"),
		},
		PlayerType: {
			member("health", 0, 4, debuginfo.FloatType, "float"),
			member("pos", 4, 12, debuginfo.UnknownType, "Vec3"),
			pointerMember("target", 16, PointType, "Point*"),
		},
	}
}

// Tables returns the fixture tables. Callers may modify the result before
// building an index.
func Tables() debuginfo.Tables {
	return debuginfo.Tables{
		Path:      "/opt/app/engine",
		ImageBase: 0,
		Arch:      "amd64",
		Separator: debuginfo.SeparatorNative,
		Functions: []debuginfo.FunctionInfo{
			{Name: "audio::process_buffer(audio::AudioBuffer*)", RawName: "_ZN5audio14process_bufferEPNS_11AudioBufferE", LowPC: ProcessBuffer, HighPC: 0x1100, File: "/src/audio/engine.cpp", Line: 10},
			{Name: "audio::mix(float, float)", RawName: "_ZN5audio3mixEff", LowPC: Mix, HighPC: 0x1200, File: "/src/audio/engine.cpp", Line: 40},
			{Name: "audio::Inner::process()", RawName: "_ZN5audio5Inner7processEv", LowPC: InnerProcess, HighPC: 0x1300, File: "/src/audio/engine.cpp", Line: 60},
			{Name: "midi::process_note_on", RawName: "_ZN4midi15process_note_onE", LowPC: NoteOn, HighPC: 0x2100, File: "/src/midi/handler.cpp", Line: 5},
			{Name: "main", RawName: "main", LowPC: Main, HighPC: 0x3100, File: "/src/main.cpp", Line: 97},
		},
		Variables: []debuginfo.VariableInfo{
			staticVar("gCounter", CounterAddr, 4, debuginfo.SignedType, "int32_t", 0),
			staticVar("gTempo", TempoAddr, 8, debuginfo.FloatType, "double", 0),
			staticVar("gFlags", FlagsAddr, 2, debuginfo.UnsignedType, "uint16_t", 0),
			staticVar("gPointPtr", PointPtrAddr, 8, debuginfo.PointerType, "Point*", PointType),
			staticVar("gNodePtr", NodePtrAddr, 8, debuginfo.PointerType, "Node*", NodeType),
			staticVar("gGamePtr", GamePtrAddr, 8, debuginfo.PointerType, "Game*", GameType),
			staticVar("gOpaque", OpaqueAddr, 8, debuginfo.PointerType, "Opaque*", OpaqueType),
			staticVar("audio::gBuffer", BufferAddr, 8, debuginfo.UnsignedType, "uint64_t", 0),
			{Name: "gOptimized", Size: 4, Type: debuginfo.SignedType, TypeName: "int"},
		},
		Lines:   debuginfo.StaticLines(Lines()),
		Layouts: Layouts(),
		Frames: StaticFrames{
			ProcessBuffer: {
				{Name: "buf", Kind: debuginfo.LocalParameter, Size: 8, Type: debuginfo.PointerType, TypeName: "Point*", Pointee: PointType,
					Location: debuginfo.Location{Class: debuginfo.LocationRegister, Register: 5}},
				{Name: "frames", Kind: debuginfo.LocalParameter, Size: 4, Type: debuginfo.SignedType, TypeName: "int",
					Location: debuginfo.Location{Class: debuginfo.LocationRegister, Register: 4}},
				{Name: "i", Kind: debuginfo.LocalVariable, Size: 4, Type: debuginfo.SignedType, TypeName: "int",
					Location: debuginfo.Location{Class: debuginfo.LocationFrameBase, Offset: -20}},
			},
		},
	}
}

func staticVar(name string, addr, size uint64, kind debuginfo.TypeKind, typeName string, pointee debuginfo.TypeRef) debuginfo.VariableInfo {
	return debuginfo.VariableInfo{
		Name:     name,
		RawName:  name,
		Address:  addr,
		Size:     size,
		Type:     kind,
		TypeName: typeName,
		Location: debuginfo.Location{Class: debuginfo.LocationStatic, Address: addr},
		Pointee:  pointee,
	}
}

// Lines returns the fixture line table.
func Lines() []debuginfo.LineEntry {
	const engine = "/src/audio/engine.cpp"
	return []debuginfo.LineEntry{
		{Address: 0x1000, File: engine, Line: 10, IsStatement: true},
		{Address: 0x1010, File: engine, Line: 11, IsStatement: true},
		{Address: 0x1018, File: engine, Line: 11},
		{Address: 0x1020, File: engine, Line: 12},
		{Address: 0x1030, File: engine, Line: 13, IsStatement: true},
		{Address: 0x1040, File: engine, Line: 15, IsStatement: true},
		{Address: 0x1050, File: engine, Line: 11, IsStatement: true},
		{Address: 0x10f0, File: engine, Line: 16, IsStatement: true},
		{Address: 0x1100, File: engine, Line: 40, IsStatement: true},
		{Address: 0x1110, File: engine, Line: 41, IsStatement: true},
		{Address: 0x1120, File: engine, Line: 42, IsStatement: true},
		{Address: 0x1200, File: engine, Line: 60, IsStatement: true},
		{Address: 0x2000, File: "/src/midi/handler.cpp", Line: 5, IsStatement: true},
		{Address: 0x2010, File: "/src/midi/handler.cpp", Line: 6, IsStatement: true},
		{Address: 0x2020, File: "/src/midi/handler.cpp", Line: 7, IsStatement: true},
		{Address: 0x3000, File: "/src/main.cpp", Line: 98, IsStatement: true},
		{Address: 0x3010, File: "/src/main.cpp", Line: 102, IsStatement: true},
		{Address: 0x3020, File: "/src/main.cpp", Line: 105, IsStatement: true},
		{Address: 0x3030, File: "/src/main.cpp", Line: 110, IsStatement: true},
		{Address: 0x4000, File: "/src/other_main.cpp", Line: 100, IsStatement: true},
	}
}

// Index builds the fixture index.
func Index() *debuginfo.Index {
	return debuginfo.NewIndex(zerolog.Nop(), Tables())
}
