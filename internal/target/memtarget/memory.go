// Package memtarget is an in-memory implementation of the target
// collaborators for tests and offline use.
package memtarget

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/coral-mesh/strobe/internal/target"
)

const pageSize = 0x1000

// Memory is a sparse little-endian address space. Reads and writes outside
// mapped pages fail with target.ErrFault.
type Memory struct {
	mu    sync.RWMutex
	pages map[uint64][]byte
}

// NewMemory creates an empty address space.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint64][]byte)}
}

// Map makes [addr, addr+size) accessible and zero-filled.
func (m *Memory) Map(addr, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := addr &^ (pageSize - 1); p < addr+size; p += pageSize {
		if _, ok := m.pages[p]; !ok {
			m.pages[p] = make([]byte, pageSize)
		}
	}
}

// ReadMemory implements target.MemoryReader.
func (m *Memory) ReadMemory(addr uint64, size int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]byte, size)
	for i := 0; i < size; {
		a := addr + uint64(i)
		page, ok := m.pages[a&^(pageSize-1)]
		if !ok {
			return nil, fmt.Errorf("read 0x%x: %w", a, target.ErrFault)
		}
		i += copy(out[i:], page[a&(pageSize-1):])
	}
	return out, nil
}

// WriteMemory implements target.MemoryWriter.
func (m *Memory) WriteMemory(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := addr + uint64(len(data))
	for p := addr &^ (pageSize - 1); p < end; p += pageSize {
		if _, ok := m.pages[p]; !ok {
			return fmt.Errorf("write 0x%x: %w", max(p, addr), target.ErrFault)
		}
	}
	for i := 0; i < len(data); {
		a := addr + uint64(i)
		page := m.pages[a&^(pageSize-1)]
		i += copy(page[a&(pageSize-1):], data[i:])
	}
	return nil
}

// PutUint writes v as a size-byte little-endian integer, mapping the
// range first.
func (m *Memory) PutUint(addr uint64, size int, v uint64) {
	m.Map(addr, uint64(size))
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	if err := m.WriteMemory(addr, buf[:size]); err != nil {
		panic(err)
	}
}

// PutUint64 writes an 8-byte value.
func (m *Memory) PutUint64(addr, v uint64) { m.PutUint(addr, 8, v) }

// PutUint32 writes a 4-byte value.
func (m *Memory) PutUint32(addr uint64, v uint32) { m.PutUint(addr, 4, uint64(v)) }

// PutInt32 writes a 4-byte signed value.
func (m *Memory) PutInt32(addr uint64, v int32) { m.PutUint(addr, 4, uint64(uint32(v))) }

// PutFloat64 writes an IEEE-754 double.
func (m *Memory) PutFloat64(addr uint64, v float64) { m.PutUint(addr, 8, math.Float64bits(v)) }

// Uint reads a size-byte little-endian integer.
func (m *Memory) Uint(addr uint64, size int) (uint64, error) {
	buf, err := m.ReadMemory(addr, size)
	if err != nil {
		return 0, err
	}
	var full [8]byte
	copy(full[:], buf)
	return binary.LittleEndian.Uint64(full[:]), nil
}
