//go:build !linux

// Package procmem reads and writes another process's memory. It is only
// implemented on Linux.
package procmem

import (
	"github.com/coral-mesh/strobe/internal/target"
)

// Memory is unavailable on this platform.
type Memory struct {
	pid int
}

// New returns a Memory whose operations always fail.
func New(pid int) *Memory {
	return &Memory{pid: pid}
}

// ReadMemory always returns target.ErrUnsupported.
func (m *Memory) ReadMemory(uint64, int) ([]byte, error) {
	return nil, target.ErrUnsupported
}

// WriteMemory always returns target.ErrUnsupported.
func (m *Memory) WriteMemory(uint64, []byte) error {
	return target.ErrUnsupported
}
