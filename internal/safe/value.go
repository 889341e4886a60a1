package safe

import (
	"math"
)

// Uint64ToInt64 converts val to int64, clamping to math.MaxInt64.
// The boolean reports whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// Offset adds a signed delta to addr. The boolean reports whether the
// result wrapped around the address space.
func Offset(addr uint64, delta int64) (uint64, bool) {
	out := addr + uint64(delta)
	if delta >= 0 {
		return out, out < addr
	}
	return out, out > addr
}
