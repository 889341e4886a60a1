package debuginfo

import (
	"encoding/binary"
	"fmt"
)

// LocationClass describes where a variable's value lives.
type LocationClass int

const (
	// LocationOptimizedOut covers no location at all as well as every
	// expression form the index does not evaluate.
	LocationOptimizedOut LocationClass = iota
	LocationStatic
	LocationRegister
	LocationRegisterOffset
	LocationFrameBase
)

// Location is a decoded DWARF location expression.
type Location struct {
	Class    LocationClass
	Register int    // DWARF register number (register forms)
	Offset   int64  // Offset for frame-base and register-relative forms
	Address  uint64 // File address for LocationStatic

	// addrIndex is set for DW_OP_addrx, which needs .debug_addr to resolve.
	addrIndex  uint64
	needsIndex bool
}

// Supported reports whether the location can be read without a DWARF
// expression evaluator.
func (l Location) Supported() bool {
	return l.Class != LocationOptimizedOut
}

// DWARF location expression opcodes.
const (
	opAddr            = 0x03
	opPlusUconst      = 0x23
	opReg0            = 0x50
	opReg31           = 0x6f
	opBreg0           = 0x70
	opBreg31          = 0x8f
	opRegx            = 0x90
	opFbreg           = 0x91
	opBregx           = 0x92
	opAddrx           = 0xa1
	opGNUAddrIndex    = 0xfb
)

// parseLocationExpr decodes the single-operation expressions the index
// supports. Anything else, including multi-op expressions, is optimized out.
func parseLocationExpr(expr []byte, addrSize int) (Location, error) {
	if len(expr) == 0 {
		return Location{}, fmt.Errorf("empty location expression")
	}

	op := expr[0]
	rest := expr[1:]
	var loc Location
	var n int

	switch {
	case op == opAddr:
		if len(rest) < addrSize {
			return Location{}, fmt.Errorf("DW_OP_addr: truncated expression")
		}
		loc.Class = LocationStatic
		if addrSize == 4 {
			loc.Address = uint64(binary.LittleEndian.Uint32(rest))
		} else {
			loc.Address = binary.LittleEndian.Uint64(rest)
		}
		n = addrSize

	case op == opAddrx || op == opGNUAddrIndex:
		idx, used := decodeULEB128(rest)
		if used == 0 {
			return Location{}, fmt.Errorf("DW_OP_addrx: invalid ULEB128")
		}
		loc.Class = LocationStatic
		loc.addrIndex = idx
		loc.needsIndex = true
		n = used

	case op >= opReg0 && op <= opReg31:
		loc.Class = LocationRegister
		loc.Register = int(op - opReg0)

	case op == opRegx:
		reg, used := decodeULEB128(rest)
		if used == 0 {
			return Location{}, fmt.Errorf("DW_OP_regx: invalid ULEB128")
		}
		loc.Class = LocationRegister
		loc.Register = int(reg)
		n = used

	case op == opFbreg:
		off, used := decodeSLEB128(rest)
		if used == 0 {
			return Location{}, fmt.Errorf("DW_OP_fbreg: invalid SLEB128")
		}
		loc.Class = LocationFrameBase
		loc.Offset = off
		n = used

	case op >= opBreg0 && op <= opBreg31:
		off, used := decodeSLEB128(rest)
		if used == 0 {
			return Location{}, fmt.Errorf("DW_OP_breg: invalid SLEB128")
		}
		loc.Class = LocationRegisterOffset
		loc.Register = int(op - opBreg0)
		loc.Offset = off
		n = used

	case op == opBregx:
		reg, used := decodeULEB128(rest)
		if used == 0 {
			return Location{}, fmt.Errorf("DW_OP_bregx: invalid ULEB128")
		}
		off, used2 := decodeSLEB128(rest[used:])
		if used2 == 0 {
			return Location{}, fmt.Errorf("DW_OP_bregx: invalid SLEB128")
		}
		loc.Class = LocationRegisterOffset
		loc.Register = int(reg)
		loc.Offset = off
		n = used + used2

	default:
		return Location{}, nil
	}

	if len(rest) != n {
		// Trailing operations (DW_OP_stack_value, pieces, derefs) need an
		// evaluator.
		return Location{}, nil
	}
	return loc, nil
}

// decodeULEB128 decodes an unsigned LEB128 value.
// Returns the value and number of bytes consumed.
func decodeULEB128(data []byte) (uint64, int) {
	var result uint64
	var shift uint

	for i := 0; i < len(data) && i < 10; i++ {
		b := data[i]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}

	return 0, 0
}

// decodeSLEB128 decodes a signed LEB128 value.
// Returns the value and number of bytes consumed.
func decodeSLEB128(data []byte) (int64, int) {
	var result int64
	var shift uint

	for i := 0; i < len(data) && i < 10; i++ {
		b := data[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && (b&0x40) != 0 {
				result |= -(1 << shift)
			}
			return result, i + 1
		}
	}

	return 0, 0
}

// String returns a human-readable description of the location.
func (l Location) String() string {
	switch l.Class {
	case LocationStatic:
		return fmt.Sprintf("addr:0x%x", l.Address)
	case LocationRegister:
		return fmt.Sprintf("reg%d", l.Register)
	case LocationRegisterOffset:
		return fmt.Sprintf("reg%d%+d", l.Register, l.Offset)
	case LocationFrameBase:
		return fmt.Sprintf("fbreg%+d", l.Offset)
	default:
		return "<optimized out>"
	}
}
