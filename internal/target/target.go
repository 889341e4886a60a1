// Package target defines the collaborators the engine drives inside a
// traced process: entry interception, memory access and the image slide.
// Linux implementations live in the procmem and uprobe subpackages and an
// in-memory one, for tests, in memtarget.
package target

import (
	"errors"
)

var (
	// ErrFault is returned for reads or writes of unmapped memory.
	ErrFault = errors.New("memory fault")
	// ErrUnknownHandle is returned by Detach for a handle it never issued.
	ErrUnknownHandle = errors.New("unknown interception handle")
	// ErrUnavailable is returned for call context values the interceptor
	// could not capture.
	ErrUnavailable = errors.New("value not available")
	// ErrNoMapping is returned when an image is not (yet) mapped in the
	// target process.
	ErrNoMapping = errors.New("image not mapped")
	// ErrUnsupported is returned on platforms without an implementation.
	ErrUnsupported = errors.New("not supported on this platform")
)

// MemoryReader reads fixed-size values at runtime addresses.
type MemoryReader interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
}

// MemoryWriter writes fixed-size values at runtime addresses.
type MemoryWriter interface {
	WriteMemory(addr uint64, data []byte) error
}

// Memory reads and writes target memory.
type Memory interface {
	MemoryReader
	MemoryWriter
}

// SlideProvider reports the load-time offset of the target image.
type SlideProvider interface {
	Slide() (int64, error)
}

// StaticSlide is a SlideProvider with a fixed value.
type StaticSlide int64

// Slide returns s.
func (s StaticSlide) Slide() (int64, error) {
	return int64(s), nil
}

// CallContext is the state of a thread at an intercepted function entry.
type CallContext interface {
	// ThreadID is the kernel thread id of the calling thread.
	ThreadID() uint64
	// Address is the runtime address that was hit.
	Address() uint64
	// Arg returns the i-th integer argument register.
	Arg(i int) (uint64, error)
	// Register returns a register by DWARF register number.
	Register(reg uint64) (uint64, error)
	// ReturnAddress returns the caller's return address.
	ReturnAddress() (uint64, error)
}

// HitHandler runs on the intercepted thread. A handler that blocks holds
// that thread, and only that thread, until it returns.
type HitHandler func(CallContext)

// Handle identifies one installed interception.
type Handle interface {
	Address() uint64
}

// Interceptor installs entry interceptions at runtime addresses.
type Interceptor interface {
	Attach(addr uint64, handler HitHandler) (Handle, error)
	Detach(h Handle) error
}
