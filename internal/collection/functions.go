package collection

import (
	"sync"

	"go.uber.org/atomic"
)

// Function is a traced function known to the trampoline by its dense id.
type Function struct {
	ID           uint32 `json:"id"`
	Name         string `json:"name"`
	Address      uint64 `json:"address"`
	NonSamplable bool   `json:"non_samplable,omitempty"`
}

// FunctionTable assigns dense ids to traced functions. Lookups are lock
// free; registration copies the table.
type FunctionTable struct {
	mu     sync.Mutex
	byAddr map[uint64]uint32
	funcs  atomic.Pointer[[]Function]
}

// NewFunctionTable creates an empty table.
func NewFunctionTable() *FunctionTable {
	t := &FunctionTable{byAddr: make(map[uint64]uint32)}
	empty := []Function{}
	t.funcs.Store(&empty)
	return t
}

// Register returns the id for the function at address, assigning the next
// id on first registration.
func (t *FunctionTable) Register(name string, address uint64, nonSamplable bool) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byAddr[address]; ok {
		return id
	}

	cur := *t.funcs.Load()
	id := uint32(len(cur))
	next := make([]Function, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, Function{ID: id, Name: name, Address: address, NonSamplable: nonSamplable})
	t.funcs.Store(&next)
	t.byAddr[address] = id
	return id
}

// Lookup returns the function with the given id.
func (t *FunctionTable) Lookup(id uint32) (Function, bool) {
	funcs := *t.funcs.Load()
	if int(id) >= len(funcs) {
		return Function{}, false
	}
	return funcs[id], true
}

// Name returns the function name for id, or "" when unknown.
func (t *FunctionTable) Name(id uint32) string {
	fn, _ := t.Lookup(id)
	return fn.Name
}

// Len returns the number of registered functions.
func (t *FunctionTable) Len() int {
	return len(*t.funcs.Load())
}

// All returns every registered function in id order.
func (t *FunctionTable) All() []Function {
	return append([]Function(nil), *t.funcs.Load()...)
}
