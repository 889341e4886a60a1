package collection

import (
	"fmt"
	"math/bits"

	"go.uber.org/atomic"
)

// SlotCount is the number of watch slots sampled on every call.
const SlotCount = 4

// DefaultRingCapacity is used when a ring is created with capacity 0.
const DefaultRingCapacity = 1 << 14

// Entry is one record written by a traced call. Values holds the raw slot
// readings under the slot-table Generation.
type Entry struct {
	Timestamp  int64
	ThreadID   uint64
	FuncID     uint32
	Generation uint64
	Values     [SlotCount]uint64
}

type cell struct {
	seq   atomic.Uint64
	entry Entry
}

// Ring is a bounded multi-producer single-consumer queue. Each cell carries
// a sequence number; producers reserve a position with a CAS on head and
// publish by advancing the cell sequence, so the consumer only ever sees
// fully written entries.
type Ring struct {
	mask  uint64
	cells []cell

	head atomic.Uint64
	tail atomic.Uint64

	attempted atomic.Uint64
	stored    atomic.Uint64
	overflow  atomic.Uint64
}

// NewRing creates a ring. capacity must be a power of two; 0 selects
// DefaultRingCapacity.
func NewRing(capacity int) (*Ring, error) {
	if capacity == 0 {
		capacity = DefaultRingCapacity
	}
	if capacity < 2 || bits.OnesCount(uint(capacity)) != 1 {
		return nil, fmt.Errorf("ring capacity %d is not a power of two", capacity)
	}

	r := &Ring{
		mask:  uint64(capacity - 1),
		cells: make([]cell, capacity),
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r, nil
}

// Push appends e. It returns false when the ring is full; the entry is then
// dropped and counted as overflow.
func (r *Ring) Push(e Entry) bool {
	r.attempted.Inc()

	pos := r.head.Load()
	for {
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				c.entry = e
				c.seq.Store(pos + 1)
				r.stored.Inc()
				return true
			}
			pos = r.head.Load()
		case diff < 0:
			r.overflow.Inc()
			return false
		default:
			pos = r.head.Load()
		}
	}
}

// Pop removes the oldest committed entry. Only one goroutine may call Pop.
func (r *Ring) Pop() (Entry, bool) {
	pos := r.tail.Load()
	c := &r.cells[pos&r.mask]
	if c.seq.Load() != pos+1 {
		return Entry{}, false
	}
	e := c.entry
	c.seq.Store(pos + r.mask + 1)
	r.tail.Store(pos + 1)
	return e, true
}

// Drain pops committed entries into buf until the ring is empty or buf is
// full and returns the filled prefix.
func (r *Ring) Drain(buf []Entry) []Entry {
	n := 0
	for n < len(buf) {
		e, ok := r.Pop()
		if !ok {
			break
		}
		buf[n] = e
		n++
	}
	return buf[:n]
}

// Len returns the number of reserved entries not yet consumed.
func (r *Ring) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.cells)
}

// Attempted returns the number of Push calls.
func (r *Ring) Attempted() uint64 { return r.attempted.Load() }

// Stored returns the number of entries accepted by Push.
func (r *Ring) Stored() uint64 { return r.stored.Load() }

// Overflow returns the number of entries dropped because the ring was full.
func (r *Ring) Overflow() uint64 { return r.overflow.Load() }

// Stats is a point-in-time view of the ring counters.
type Stats struct {
	Capacity  int    `json:"capacity"`
	Length    int    `json:"length"`
	Attempted uint64 `json:"attempted"`
	Stored    uint64 `json:"stored"`
	Overflow  uint64 `json:"overflow"`
}

// Stats returns the ring counters.
func (r *Ring) Stats() Stats {
	return Stats{
		Capacity:  r.Cap(),
		Length:    r.Len(),
		Attempted: r.Attempted(),
		Stored:    r.Stored(),
		Overflow:  r.Overflow(),
	}
}
