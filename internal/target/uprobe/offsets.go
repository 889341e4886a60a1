package uprobe

import (
	"debug/elf"
	"fmt"
)

// segment is an executable PT_LOAD segment.
type segment struct {
	vaddr, memsz, off uint64
}

// fileOffsets converts file virtual addresses to file offsets, which is
// what uprobes are attached by.
type fileOffsets []segment

func loadFileOffsets(path string) (fileOffsets, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	var out fileOffsets
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Flags&elf.PF_X != 0 {
			out = append(out, segment{vaddr: p.Vaddr, memsz: p.Memsz, off: p.Off})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s has no executable segment", path)
	}
	return out, nil
}

func (f fileOffsets) offset(vaddr uint64) (uint64, error) {
	for _, s := range f {
		if vaddr >= s.vaddr && vaddr < s.vaddr+s.memsz {
			return vaddr - s.vaddr + s.off, nil
		}
	}
	return 0, fmt.Errorf("address 0x%x is outside every executable segment", vaddr)
}
