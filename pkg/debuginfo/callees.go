package debuginfo

import (
	"fmt"
	"sort"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// maxLineBytes bounds how much code a single source line may span when
// scanning for calls.
const maxLineBytes = 64 << 10

// CalleeEntries returns the entry addresses of known functions called
// directly from the source line containing addr. Indirect calls are not
// followed. The result is sorted and free of duplicates.
func (idx *Index) CalleeEntries(addr uint64) ([]uint64, error) {
	if idx.code == nil {
		return nil, nil
	}
	start, end, ok := idx.LineRange(addr)
	if !ok {
		return nil, fmt.Errorf("no line at 0x%x: %w", addr, ErrNotFound)
	}
	if end-start > maxLineBytes {
		end = start + maxLineBytes
	}

	code, err := idx.code.ReadCode(start, int(end-start))
	if err != nil {
		return nil, fmt.Errorf("failed to read code at 0x%x: %w", start, err)
	}

	var targets []uint64
	switch idx.arch {
	case "amd64":
		targets = callTargetsAMD64(code, start)
	case "arm64":
		targets = callTargetsARM64(code, start)
	default:
		return nil, fmt.Errorf("call decoding not supported for %q", idx.arch)
	}

	seen := make(map[uint64]struct{}, len(targets))
	var out []uint64
	for _, t := range targets {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, known := idx.FunctionAt(t); known {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func callTargetsAMD64(code []byte, base uint64) []uint64 {
	var targets []uint64
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			off++
			continue
		}
		if inst.Op == x86asm.CALL {
			if rel, ok := inst.Args[0].(x86asm.Rel); ok {
				next := base + uint64(off) + uint64(inst.Len)
				targets = append(targets, uint64(int64(next)+int64(rel)))
			}
		}
		off += inst.Len
	}
	return targets
}

func callTargetsARM64(code []byte, base uint64) []uint64 {
	var targets []uint64
	for off := 0; off+4 <= len(code); off += 4 {
		inst, err := arm64asm.Decode(code[off : off+4])
		if err != nil || inst.Op != arm64asm.BL {
			continue
		}
		if rel, ok := inst.Args[0].(arm64asm.PCRel); ok {
			targets = append(targets, uint64(int64(base)+int64(off)+int64(rel)))
		}
	}
	return targets
}
