package collection

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/coral-mesh/strobe/pkg/resolver"
)

// MaxDerefDepth is the deepest pointer hop a slot can perform.
const MaxDerefDepth = 1

var (
	// ErrTooManySlots is returned by Update for more than SlotCount descriptors.
	ErrTooManySlots = errors.New("too many watch slots")
	// ErrInvalidSlot is returned for a malformed descriptor.
	ErrInvalidSlot = errors.New("invalid watch slot")
	// ErrChainTooDeep is returned by SlotFromRecipe for recipes that need
	// more than one pointer hop.
	ErrChainTooDeep = errors.New("deref chain too deep for a watch slot")
)

// SlotDescriptor tells the trampoline how to read one value. Address is a
// runtime address.
type SlotDescriptor struct {
	Address     uint64 `json:"address"`
	Size        uint8  `json:"size"`
	DerefDepth  uint8  `json:"deref_depth"`
	DerefOffset uint64 `json:"deref_offset"`
}

// Validate checks the descriptor can be sampled.
func (d SlotDescriptor) Validate() error {
	if d.Address == 0 {
		return fmt.Errorf("zero address: %w", ErrInvalidSlot)
	}
	if !resolver.ValidSize(uint64(d.Size)) {
		return fmt.Errorf("size %d: %w", d.Size, ErrInvalidSlot)
	}
	if d.DerefDepth > MaxDerefDepth {
		return fmt.Errorf("deref depth %d: %w", d.DerefDepth, ErrInvalidSlot)
	}
	if d.DerefDepth == 0 && d.DerefOffset != 0 {
		return fmt.Errorf("deref offset without deref: %w", ErrInvalidSlot)
	}
	return nil
}

// SlotFromRecipe converts a recipe with at most one hop into a descriptor
// at the recipe's runtime address.
func SlotFromRecipe(rec resolver.Recipe, slide int64) (SlotDescriptor, error) {
	d := SlotDescriptor{
		Address: rec.RuntimeAddress(slide),
		Size:    rec.FinalSize,
	}
	switch len(rec.DerefChain) {
	case 0:
	case 1:
		d.DerefDepth = 1
		d.DerefOffset = rec.DerefChain[0]
	default:
		return SlotDescriptor{}, fmt.Errorf("%s has %d hops: %w", rec.Label, len(rec.DerefChain), ErrChainTooDeep)
	}
	if err := d.Validate(); err != nil {
		return SlotDescriptor{}, fmt.Errorf("%s: %w", rec.Label, err)
	}
	return d, nil
}

type slotCell struct {
	address atomic.Uint64
	shape   atomic.Uint64 // size | depth<<8
	offset  atomic.Uint64
}

func (c *slotCell) store(d SlotDescriptor) {
	c.address.Store(d.Address)
	c.shape.Store(uint64(d.Size) | uint64(d.DerefDepth)<<8)
	c.offset.Store(d.DerefOffset)
}

func (c *slotCell) load() SlotDescriptor {
	shape := c.shape.Load()
	return SlotDescriptor{
		Address:     c.address.Load(),
		Size:        uint8(shape),
		DerefDepth:  uint8(shape >> 8),
		DerefOffset: c.offset.Load(),
	}
}

// SlotTable holds the active watch slots. Writers serialize on a mutex and
// follow disable, rewrite, enable: the enabled count drops to zero, the
// seqlock goes odd, descriptors change, the seqlock goes even and the count
// is restored. Readers never block.
type SlotTable struct {
	mu         sync.Mutex
	seq        atomic.Uint64
	enabled    atomic.Uint32
	generation atomic.Uint64
	cells      [SlotCount]slotCell
}

// SlotSnapshot is a consistent copy of the table. Slots at or past Count
// are zero.
type SlotSnapshot struct {
	Generation uint64
	Count      int
	Slots      [SlotCount]SlotDescriptor
}

// NewSlotTable creates an empty table at generation 0.
func NewSlotTable() *SlotTable {
	return &SlotTable{}
}

// Update replaces every slot and returns the new generation.
func (t *SlotTable) Update(descs []SlotDescriptor) (uint64, error) {
	if len(descs) > SlotCount {
		return 0, fmt.Errorf("%d descriptors: %w", len(descs), ErrTooManySlots)
	}
	for i, d := range descs {
		if err := d.Validate(); err != nil {
			return 0, fmt.Errorf("slot %d: %w", i, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled.Store(0)
	t.seq.Inc()
	for i := range t.cells {
		var d SlotDescriptor
		if i < len(descs) {
			d = descs[i]
		}
		t.cells[i].store(d)
	}
	gen := t.generation.Inc()
	t.seq.Inc()
	t.enabled.Store(uint32(len(descs)))
	return gen, nil
}

// maxSnapshotRetries bounds how often Snapshot retries a read that raced
// with a writer before giving up with an empty view.
const maxSnapshotRetries = 4

// Snapshot returns the current slots. A read that keeps racing with writers
// returns an empty snapshot rather than waiting.
func (t *SlotTable) Snapshot() SlotSnapshot {
	for i := 0; i < maxSnapshotRetries; i++ {
		s1 := t.seq.Load()
		if s1&1 == 1 {
			continue
		}
		var snap SlotSnapshot
		count := int(t.enabled.Load())
		snap.Generation = t.generation.Load()
		for j := 0; j < count && j < SlotCount; j++ {
			snap.Slots[j] = t.cells[j].load()
		}
		if t.seq.Load() != s1 {
			continue
		}
		snap.Count = count
		return snap
	}
	return SlotSnapshot{Generation: t.generation.Load()}
}

// Generation returns the generation of the last Update.
func (t *SlotTable) Generation() uint64 {
	return t.generation.Load()
}
