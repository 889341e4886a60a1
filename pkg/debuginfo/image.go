package debuginfo

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"debug/macho"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/samber/lo"

	strobeerrors "github.com/coral-mesh/strobe/internal/errors"
)

// image is an opened object file: where its code lives, where it expects to
// be loaded and, when present, its DWARF data.
type image struct {
	path      string
	format    string
	arch      string
	imageBase uint64
	dwarf     *dwarf.Data
	dwarfErr  error
	symbols   map[string]uint64
	code      CodeReader
	buildID   string
	debugLink string
	closer    io.Closer
}

func openImage(path string) (*image, error) {
	format, err := sniffFormat(path)
	if err != nil {
		return nil, err
	}
	if format == "elf" {
		return openELF(path)
	}
	return openMachO(path)
}

func sniffFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	var magic [4]byte
	_, err = io.ReadFull(f, magic[:])
	f.Close()
	if err != nil {
		return "", fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	switch {
	case bytes.Equal(magic[:], []byte(elf.ELFMAG)):
		return "elf", nil
	case isMachOMagic(magic):
		return "macho", nil
	default:
		return "", fmt.Errorf("%s: unrecognized binary format", path)
	}
}

// ImageBase returns the load address the binary at path expects. It reads
// the program headers only, so it is usable before any parse finishes.
func ImageBase(path string) (uint64, error) {
	format, err := sniffFormat(path)
	if err != nil {
		return 0, err
	}
	if format == "elf" {
		f, err := elf.Open(path)
		if err != nil {
			return 0, fmt.Errorf("failed to open ELF file %s: %w", path, err)
		}
		defer f.Close()
		return elfImageBase(f.Progs), nil
	}

	f, closer, err := openMachOFile(path)
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return machoImageBase(f), nil
}

// elfImageBase is the lowest PT_LOAD address.
func elfImageBase(progs []*elf.Prog) uint64 {
	var (
		base  uint64
		first = true
	)
	for _, p := range progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if first || p.Vaddr < base {
			base = p.Vaddr
			first = false
		}
	}
	return base
}

func machoImageBase(f *macho.File) uint64 {
	if seg := f.Segment("__TEXT"); seg != nil {
		return seg.Addr
	}
	return 0
}

func isMachOMagic(m [4]byte) bool {
	le := uint32(m[0]) | uint32(m[1])<<8 | uint32(m[2])<<16 | uint32(m[3])<<24
	be := uint32(m[3]) | uint32(m[2])<<8 | uint32(m[1])<<16 | uint32(m[0])<<24
	for _, v := range []uint32{le, be} {
		switch v {
		case macho.Magic32, macho.Magic64, macho.MagicFat:
			return true
		}
	}
	return false
}

func openELF(path string) (*image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file %s: %w", path, err)
	}

	img := &image{
		path:    path,
		format:  "elf",
		arch:    elfArch(f.Machine),
		symbols: make(map[string]uint64),
		code:    elfCode{f},
		closer:  f,
	}
	img.imageBase = elfImageBase(f.Progs)

	img.dwarf, img.dwarfErr = f.DWARF()
	if syms, err := f.Symbols(); err == nil {
		for _, s := range syms {
			if s.Value != 0 {
				img.symbols[s.Name] = s.Value
			}
		}
	}
	if sec := f.Section(".note.gnu.build-id"); sec != nil {
		if data, err := sec.Data(); err == nil {
			img.buildID = parseBuildIDNote(data, f.ByteOrder)
		}
	}
	if sec := f.Section(".gnu_debuglink"); sec != nil {
		if data, err := sec.Data(); err == nil {
			if i := bytes.IndexByte(data, 0); i > 0 {
				img.debugLink = string(data[:i])
			}
		}
	}

	return img, nil
}

func elfArch(m elf.Machine) string {
	switch m {
	case elf.EM_X86_64:
		return "amd64"
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_386:
		return "386"
	default:
		return strings.ToLower(strings.TrimPrefix(m.String(), "EM_"))
	}
}

// parseBuildIDNote extracts the descriptor of an NT_GNU_BUILD_ID note.
func parseBuildIDNote(data []byte, order interface{ Uint32([]byte) uint32 }) string {
	if len(data) < 12 {
		return ""
	}
	namesz := order.Uint32(data[0:4])
	descsz := order.Uint32(data[4:8])
	start := 12 + ((namesz + 3) &^ 3)
	end := start + descsz
	if uint64(end) > uint64(len(data)) || descsz == 0 {
		return ""
	}
	return hex.EncodeToString(data[start:end])
}

type elfCode struct{ f *elf.File }

func (c elfCode) ReadCode(addr uint64, size int) ([]byte, error) {
	for _, s := range c.f.Sections {
		if s.Flags&elf.SHF_EXECINSTR == 0 || s.Type == elf.SHT_NOBITS {
			continue
		}
		if addr < s.Addr || addr >= s.Addr+s.Size {
			continue
		}
		if rem := s.Addr + s.Size - addr; uint64(size) > rem {
			size = int(rem)
		}
		buf := make([]byte, size)
		if _, err := s.ReadAt(buf, int64(addr-s.Addr)); err != nil && err != io.EOF {
			return nil, err
		}
		return buf, nil
	}
	return nil, fmt.Errorf("address 0x%x is not in an executable section", addr)
}

func openMachOFile(path string) (*macho.File, io.Closer, error) {
	if fat, err := macho.OpenFat(path); err == nil {
		return pickFatArch(fat), fat, nil
	}
	f, err := macho.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Mach-O file %s: %w", path, err)
	}
	return f, f, nil
}

func openMachO(path string) (*image, error) {
	f, closer, err := openMachOFile(path)
	if err != nil {
		return nil, err
	}

	img := &image{
		path:    path,
		format:  "macho",
		arch:    machoArch(f.Cpu),
		symbols: make(map[string]uint64),
		code:    machoCode{f},
		closer:  closer,
	}
	img.imageBase = machoImageBase(f)
	img.dwarf, img.dwarfErr = f.DWARF()
	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			if s.Value == 0 {
				continue
			}
			img.symbols[s.Name] = s.Value
			img.symbols[strings.TrimPrefix(s.Name, "_")] = s.Value
		}
	}
	return img, nil
}

func pickFatArch(fat *macho.FatFile) *macho.File {
	want := macho.CpuAmd64
	if runtime.GOARCH == "arm64" {
		want = macho.CpuArm64
	}
	for _, a := range fat.Arches {
		if a.Cpu == want {
			return a.File
		}
	}
	return fat.Arches[0].File
}

func machoArch(c macho.Cpu) string {
	switch c {
	case macho.CpuAmd64:
		return "amd64"
	case macho.CpuArm64:
		return "arm64"
	default:
		return strings.ToLower(c.String())
	}
}

type machoCode struct{ f *macho.File }

func (c machoCode) ReadCode(addr uint64, size int) ([]byte, error) {
	for _, s := range c.f.Sections {
		if s.Seg != "__TEXT" || addr < s.Addr || addr >= s.Addr+s.Size {
			continue
		}
		if rem := s.Addr + s.Size - addr; uint64(size) > rem {
			size = int(rem)
		}
		buf := make([]byte, size)
		if _, err := s.ReadAt(buf, int64(addr-s.Addr)); err != nil && err != io.EOF {
			return nil, err
		}
		return buf, nil
	}
	return nil, fmt.Errorf("address 0x%x is not in __TEXT", addr)
}

// debugCandidates lists detached debug-info files for img, most specific
// first.
func (img *image) debugCandidates(searchRoot string) []string {
	dir := filepath.Dir(img.path)
	base := filepath.Base(img.path)
	var out []string

	switch img.format {
	case "macho":
		out = append(out, filepath.Join(img.path+".dSYM", "Contents", "Resources", "DWARF", base))
		if searchRoot != "" {
			out = append(out, filepath.Join(searchRoot, base+".dSYM", "Contents", "Resources", "DWARF", base))
		}
	case "elf":
		if len(img.buildID) > 2 {
			out = append(out, filepath.Join("/usr/lib/debug/.build-id", img.buildID[:2], img.buildID[2:]+".debug"))
		}
		if img.debugLink != "" {
			out = append(out,
				filepath.Join(dir, img.debugLink),
				filepath.Join(dir, ".debug", img.debugLink),
				filepath.Join("/usr/lib/debug", dir, img.debugLink),
			)
			if searchRoot != "" {
				out = append(out, filepath.Join(searchRoot, img.debugLink))
			}
		}
		if searchRoot != "" {
			out = append(out, filepath.Join(searchRoot, base+".debug"))
		}
	}
	return lo.Uniq(out)
}

// closers closes several resources, aggregating their errors.
type closers []io.Closer

func (c closers) Close() error { return strobeerrors.CloseAll(c...) }
