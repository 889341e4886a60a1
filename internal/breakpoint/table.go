package breakpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownBreakpoint is returned for ids that were never issued or have
// been removed.
var ErrUnknownBreakpoint = errors.New("unknown breakpoint")

// ID is an integer handle into the breakpoint table. The low 32 bits are
// the slot and the high 32 bits its generation, so a removed id never
// matches the slot's next occupant.
type ID uint64

func makeID(slot, gen uint32) ID { return ID(uint64(gen)<<32 | uint64(slot)) }

func (id ID) slot() uint32 { return uint32(id) }
func (id ID) gen() uint32  { return uint32(id >> 32) }

// String formats id as "bp-<slot>.<generation>".
func (id ID) String() string {
	return fmt.Sprintf("bp-%d.%d", id.slot(), id.gen())
}

// ParseID is the inverse of ID.String.
func ParseID(s string) (ID, error) {
	rest, ok := strings.CutPrefix(s, "bp-")
	if !ok {
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownBreakpoint)
	}
	slotStr, genStr, ok := strings.Cut(rest, ".")
	if !ok {
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownBreakpoint)
	}
	slot, err := strconv.ParseUint(slotStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownBreakpoint)
	}
	gen, err := strconv.ParseUint(genStr, 10, 32)
	if err != nil || gen == 0 {
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownBreakpoint)
	}
	return makeID(uint32(slot), uint32(gen)), nil
}

type tableSlot struct {
	gen uint32
	p   *point
}

// table is a slot arena. It is not safe for concurrent use; the engine
// guards it with its coordinator lock.
type table struct {
	slots []tableSlot
	free  []uint32
	live  int
}

func (t *table) insert(p *point) ID {
	var slot uint32
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		slot = uint32(len(t.slots))
		t.slots = append(t.slots, tableSlot{})
	}
	s := &t.slots[slot]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.p = p
	t.live++
	return makeID(slot, s.gen)
}

func (t *table) get(id ID) (*point, bool) {
	if int(id.slot()) >= len(t.slots) {
		return nil, false
	}
	s := t.slots[id.slot()]
	if s.p == nil || s.gen != id.gen() {
		return nil, false
	}
	return s.p, true
}

func (t *table) remove(id ID) (*point, bool) {
	p, ok := t.get(id)
	if !ok {
		return nil, false
	}
	t.slots[id.slot()].p = nil
	t.free = append(t.free, id.slot())
	t.live--
	return p, true
}

// all returns the live points in slot order.
func (t *table) all() []*point {
	out := make([]*point, 0, t.live)
	for _, s := range t.slots {
		if s.p != nil {
			out = append(out, s.p)
		}
	}
	return out
}

func (t *table) len() int { return t.live }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
