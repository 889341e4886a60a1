package debuginfo

import (
	"fmt"
	"strconv"
)

// Struct expansion depth limits.
const (
	DefaultExpandDepth = 1
	MaxExpandDepth     = 5
)

// Members returns the direct members of the struct ref refers to. Layouts
// are resolved on first use and cached; concurrent first uses share one
// resolution.
func (idx *Index) Members(ref TypeRef) ([]StructMember, error) {
	if ref == NoType {
		return nil, fmt.Errorf("pointer has no pointee type: %w", ErrMissingLayout)
	}

	idx.layoutMu.RLock()
	members, ok := idx.layoutCache[ref]
	idx.layoutMu.RUnlock()
	if ok {
		return members, nil
	}

	if idx.layouts == nil {
		return nil, fmt.Errorf("type 0x%x: %w", uint64(ref), ErrMissingLayout)
	}

	v, err, _ := idx.layoutGroup.Do(strconv.FormatUint(uint64(ref), 16), func() (any, error) {
		members, err := idx.layouts.StructMembers(ref)
		if err != nil {
			return nil, err
		}
		idx.layoutMu.Lock()
		idx.layoutCache[ref] = members
		idx.layoutMu.Unlock()
		return members, nil
	})
	if err != nil {
		return nil, fmt.Errorf("type 0x%x: %w", uint64(ref), err)
	}
	return v.([]StructMember), nil
}

// Member finds a member by name in the struct ref refers to.
func (idx *Index) Member(ref TypeRef, name string) (StructMember, error) {
	members, err := idx.Members(ref)
	if err != nil {
		return StructMember{}, err
	}
	for _, m := range members {
		if m.Name == name {
			return m, nil
		}
	}
	return StructMember{}, fmt.Errorf("member %s: %w", name, ErrNotFound)
}

// Expand returns the members of the struct ref refers to, following pointer
// members up to depth levels. depth is clamped to [1, MaxExpandDepth];
// pointer-to-struct members past the limit are marked Truncated.
func (idx *Index) Expand(ref TypeRef, depth int) ([]StructMember, error) {
	if depth < 1 {
		depth = DefaultExpandDepth
	}
	if depth > MaxExpandDepth {
		depth = MaxExpandDepth
	}
	return idx.expand(ref, depth)
}

func (idx *Index) expand(ref TypeRef, depth int) ([]StructMember, error) {
	members, err := idx.Members(ref)
	if err != nil {
		return nil, err
	}

	out := make([]StructMember, len(members))
	copy(out, members)
	for i := range out {
		m := &out[i]
		if !m.IsPointer || m.Pointee == NoType {
			continue
		}
		if depth <= 1 {
			if _, err := idx.Members(m.Pointee); err == nil {
				m.Truncated = true
			}
			continue
		}
		nested, err := idx.expand(m.Pointee, depth-1)
		if err != nil {
			// Pointers to scalars or opaque types simply stay unexpanded.
			continue
		}
		m.Members = nested
	}
	return out, nil
}
