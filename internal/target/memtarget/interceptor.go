package memtarget

import (
	"fmt"
	"sort"
	"sync"

	"github.com/coral-mesh/strobe/internal/target"
)

// Handle is an interception issued by Interceptor.
type Handle struct {
	id   uint64
	addr uint64
}

// Address implements target.Handle.
func (h *Handle) Address() uint64 { return h.addr }

type attachment struct {
	handle  *Handle
	handler target.HitHandler
}

// Interceptor records attachments and dispatches simulated calls to them
// on the calling goroutine, which plays the role of the target thread.
type Interceptor struct {
	mu       sync.Mutex
	nextID   uint64
	attached map[uint64]attachment
	failAt   map[uint64]error
}

// NewInterceptor creates an interceptor with nothing attached.
func NewInterceptor() *Interceptor {
	return &Interceptor{
		attached: make(map[uint64]attachment),
		failAt:   make(map[uint64]error),
	}
}

// FailAttach makes later Attach calls at addr fail with err.
func (i *Interceptor) FailAttach(addr uint64, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failAt[addr] = err
}

// Attach implements target.Interceptor.
func (i *Interceptor) Attach(addr uint64, handler target.HitHandler) (target.Handle, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.failAt[addr]; err != nil {
		return nil, fmt.Errorf("attach 0x%x: %w", addr, err)
	}
	i.nextID++
	h := &Handle{id: i.nextID, addr: addr}
	i.attached[h.id] = attachment{handle: h, handler: handler}
	return h, nil
}

// Detach implements target.Interceptor.
func (i *Interceptor) Detach(h target.Handle) error {
	mh, ok := h.(*Handle)
	if !ok {
		return target.ErrUnknownHandle
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.attached[mh.id]; !ok {
		return fmt.Errorf("handle %d: %w", mh.id, target.ErrUnknownHandle)
	}
	delete(i.attached, mh.id)
	return nil
}

// Call simulates thread cc.TID entering the function at cc.PC. Every
// handler attached there runs in attachment order on the caller's
// goroutine; Call returns when they all have. It reports how many ran.
func (i *Interceptor) Call(cc *Call) int {
	handlers := i.handlersAt(cc.PC)
	for _, h := range handlers {
		h(cc)
	}
	return len(handlers)
}

func (i *Interceptor) handlersAt(addr uint64) []target.HitHandler {
	i.mu.Lock()
	defer i.mu.Unlock()
	var ids []uint64
	for id, a := range i.attached {
		if a.handle.addr == addr {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	out := make([]target.HitHandler, len(ids))
	for n, id := range ids {
		out[n] = i.attached[id].handler
	}
	return out
}

// Attached returns the sorted runtime addresses with at least one
// interception, one entry per interception.
func (i *Interceptor) Attached() []uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]uint64, 0, len(i.attached))
	for _, a := range i.attached {
		out = append(out, a.handle.addr)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Count returns the number of interceptions at addr.
func (i *Interceptor) Count(addr uint64) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, a := range i.attached {
		if a.handle.addr == addr {
			n++
		}
	}
	return n
}

// Call is a simulated function entry. It implements target.CallContext.
type Call struct {
	TID    uint64
	PC     uint64
	Args   []uint64
	Regs   map[uint64]uint64
	Return uint64
}

// ThreadID implements target.CallContext.
func (c *Call) ThreadID() uint64 { return c.TID }

// Address implements target.CallContext.
func (c *Call) Address() uint64 { return c.PC }

// Arg implements target.CallContext.
func (c *Call) Arg(n int) (uint64, error) {
	if n < 0 || n >= len(c.Args) {
		return 0, fmt.Errorf("argument %d: %w", n, target.ErrUnavailable)
	}
	return c.Args[n], nil
}

// Register implements target.CallContext.
func (c *Call) Register(reg uint64) (uint64, error) {
	v, ok := c.Regs[reg]
	if !ok {
		return 0, fmt.Errorf("register %d: %w", reg, target.ErrUnavailable)
	}
	return v, nil
}

// ReturnAddress implements target.CallContext.
func (c *Call) ReturnAddress() (uint64, error) {
	if c.Return == 0 {
		return 0, fmt.Errorf("return address: %w", target.ErrUnavailable)
	}
	return c.Return, nil
}
