package resolver

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// ErrNullPointer is returned by Recipe.Read when a pointer in the chain is nil.
var ErrNullPointer = errors.New("null pointer")

// MemoryReader reads target memory at runtime addresses.
type MemoryReader interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
}

// Recipe is a flat description of how to read one value: start at
// BaseAddress, and for every entry of DerefChain load a pointer and add the
// offset. The final FinalSize bytes are the value.
//
// BaseAddress is a file address. Runtime consumers add the image slide once.
type Recipe struct {
	Label       string             `json:"label"`
	BaseAddress uint64             `json:"base_address"`
	DerefChain  []uint64           `json:"deref_chain,omitempty"`
	FinalSize   uint8              `json:"final_size"`
	Type        debuginfo.TypeKind `json:"-"`
	TypeName    string             `json:"type_name,omitempty"`
}

// Direct reports whether the value is read without dereferencing.
func (r Recipe) Direct() bool {
	return len(r.DerefChain) == 0
}

// RuntimeAddress returns BaseAddress adjusted by slide.
func (r Recipe) RuntimeAddress(slide int64) uint64 {
	return uint64(int64(r.BaseAddress) + slide)
}

// Read evaluates the recipe against live memory and returns the raw value
// zero-extended to 64 bits.
func (r Recipe) Read(mem MemoryReader, slide int64) (uint64, error) {
	addr, err := r.Address(mem, slide)
	if err != nil {
		return 0, err
	}
	v, err := readUint(mem, addr, int(r.FinalSize))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", r.Label, err)
	}
	return v, nil
}

// Address follows the deref chain and returns the runtime address of the
// final value.
func (r Recipe) Address(mem MemoryReader, slide int64) (uint64, error) {
	addr := r.RuntimeAddress(slide)
	for i, off := range r.DerefChain {
		ptr, err := readUint(mem, addr, 8)
		if err != nil {
			return 0, fmt.Errorf("%s: hop %d: %w", r.Label, i, err)
		}
		if ptr == 0 {
			return 0, fmt.Errorf("%s: hop %d: %w", r.Label, i, ErrNullPointer)
		}
		addr = ptr + off
	}
	return addr, nil
}

func readUint(mem MemoryReader, addr uint64, size int) (uint64, error) {
	buf, err := mem.ReadMemory(addr, size)
	if err != nil {
		return 0, err
	}
	if len(buf) < size {
		return 0, fmt.Errorf("short read at 0x%x: %d of %d bytes", addr, len(buf), size)
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return binary.LittleEndian.Uint64(buf), nil
	default:
		return 0, fmt.Errorf("unsupported read size %d", size)
	}
}

// ValidSize reports whether size is a readable scalar width.
func ValidSize(size uint64) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	}
	return false
}
