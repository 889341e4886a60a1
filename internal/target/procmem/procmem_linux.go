//go:build linux

// Package procmem reads and writes another process's memory with
// process_vm_readv(2) and process_vm_writev(2).
package procmem

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/coral-mesh/strobe/internal/target"
)

// Memory accesses the address space of one process.
type Memory struct {
	pid int
}

// New returns a Memory for pid. The caller needs ptrace access to pid.
func New(pid int) *Memory {
	return &Memory{pid: pid}
}

// ReadMemory implements target.MemoryReader.
func (m *Memory) ReadMemory(addr uint64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(size)
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: size}}

	n, err := unix.ProcessVMReadv(m.pid, local, remote, 0)
	if err != nil {
		if err == unix.EFAULT {
			return nil, fmt.Errorf("read 0x%x: %w", addr, target.ErrFault)
		}
		return nil, fmt.Errorf("read 0x%x in pid %d: %w", addr, m.pid, err)
	}
	if n < size {
		return nil, fmt.Errorf("short read at 0x%x (%d of %d): %w", addr, n, size, target.ErrFault)
	}
	return buf, nil
}

// WriteMemory implements target.MemoryWriter.
func (m *Memory) WriteMemory(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}

	n, err := unix.ProcessVMWritev(m.pid, local, remote, 0)
	if err != nil {
		if err == unix.EFAULT {
			return fmt.Errorf("write 0x%x: %w", addr, target.ErrFault)
		}
		return fmt.Errorf("write 0x%x in pid %d: %w", addr, m.pid, err)
	}
	if n < len(data) {
		return fmt.Errorf("short write at 0x%x (%d of %d): %w", addr, n, len(data), target.ErrFault)
	}
	return nil
}
