package collection

import (
	"encoding/binary"
	"time"
)

// Memory reads fixed-size values at runtime addresses.
type Memory interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
}

// Trampoline is the body run on every traced call.
type Trampoline struct {
	ring      *Ring
	slots     *SlotTable
	functions *FunctionTable
	mem       Memory
	sampler   *Sampler
	now       func() time.Time
}

// TrampolineOption configures a Trampoline.
type TrampolineOption func(*Trampoline)

// WithSampler enables load shedding.
func WithSampler(s *Sampler) TrampolineOption {
	return func(t *Trampoline) { t.sampler = s }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) TrampolineOption {
	return func(t *Trampoline) { t.now = now }
}

// NewTrampoline wires a trampoline to its ring, slot table, function table
// and memory.
func NewTrampoline(ring *Ring, slots *SlotTable, functions *FunctionTable, mem Memory, opts ...TrampolineOption) *Trampoline {
	t := &Trampoline{
		ring:      ring,
		slots:     slots,
		functions: functions,
		mem:       mem,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnCall records one call of funcID on threadID. It returns false when the
// entry was sampled out or dropped by a full ring.
//
// All four slots are read on every call. A generation of 0 in the entry
// means no slots were enabled when the call sampled them.
func (t *Trampoline) OnCall(funcID uint32, threadID uint64) bool {
	fn, _ := t.functions.Lookup(funcID)
	if !t.sampler.Admit(t.ring.Len(), fn.NonSamplable) {
		return false
	}

	snap := t.slots.Snapshot()
	e := Entry{
		Timestamp: t.now().UnixNano(),
		ThreadID:  threadID,
		FuncID:    funcID,
	}
	if snap.Count > 0 {
		e.Generation = snap.Generation
	}
	for i := range snap.Slots {
		e.Values[i] = t.readSlot(snap.Slots[i])
	}
	return t.ring.Push(e)
}

// readSlot never fails: a disabled slot, a null pointer or a faulting read
// all yield 0.
func (t *Trampoline) readSlot(d SlotDescriptor) uint64 {
	if d.Address == 0 {
		return 0
	}
	addr := d.Address
	if d.DerefDepth == 1 {
		ptr, ok := t.read(addr, 8)
		if !ok || ptr == 0 {
			return 0
		}
		addr = ptr + d.DerefOffset
	}
	v, _ := t.read(addr, int(d.Size))
	return v
}

func (t *Trampoline) read(addr uint64, size int) (uint64, bool) {
	buf, err := t.mem.ReadMemory(addr, size)
	if err != nil || len(buf) < size {
		return 0, false
	}
	switch size {
	case 1:
		return uint64(buf[0]), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), true
	case 8:
		return binary.LittleEndian.Uint64(buf), true
	}
	return 0, false
}

// Ring returns the ring the trampoline writes to.
func (t *Trampoline) Ring() *Ring { return t.ring }

// Sampler returns the trampoline's sampler, possibly nil.
func (t *Trampoline) Sampler() *Sampler { return t.sampler }
