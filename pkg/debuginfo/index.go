package debuginfo

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// LayoutSource resolves the direct members of the struct that ref names,
// following typedefs and qualifiers. Nested members are not expanded.
type LayoutSource interface {
	StructMembers(ref TypeRef) ([]StructMember, error)
}

// FrameSource lists the parameters and locals of a function.
type FrameSource interface {
	Locals(fn FunctionInfo, pc uint64) ([]Local, error)
	Parameters(fn FunctionInfo) ([]Local, error)
}

// CodeReader reads machine code at file addresses.
type CodeReader interface {
	ReadCode(addr uint64, size int) ([]byte, error)
}

// LineLoader produces the line table on first use.
type LineLoader func() ([]LineEntry, error)

// StaticLines returns a LineLoader for an already built table.
func StaticLines(entries []LineEntry) LineLoader {
	return func() ([]LineEntry, error) { return entries, nil }
}

// Tables is everything needed to build an Index. Parsed binaries fill it
// from DWARF; tests can fill it by hand.
type Tables struct {
	Path      string
	ImageBase uint64
	Arch      string // GOARCH naming: "amd64", "arm64"
	Separator string

	Functions []FunctionInfo
	Variables []VariableInfo
	Lines     LineLoader
	Layouts   LayoutSource
	Frames    FrameSource
	Code      CodeReader
	Closer    io.Closer
}

// Index answers symbol, type and line queries for one binary image. All
// methods are safe for concurrent use.
type Index struct {
	logger    zerolog.Logger
	path      string
	imageBase uint64
	arch      string
	sep       string

	functions []FunctionInfo // sorted by LowPC
	byName    map[string][]int
	variables []VariableInfo
	varByName map[string]int

	lineOnce  sync.Once
	loadLines LineLoader
	lines     []LineEntry
	lineErr   error

	layouts     LayoutSource
	layoutMu    sync.RWMutex
	layoutCache map[TypeRef][]StructMember
	layoutGroup singleflight.Group

	frames FrameSource
	code   CodeReader
	closer io.Closer
}

// NewIndex builds an index from pre-parsed tables.
func NewIndex(logger zerolog.Logger, t Tables) *Index {
	idx := &Index{
		logger:      logger.With().Str("component", "debuginfo").Logger(),
		path:        t.Path,
		imageBase:   t.ImageBase,
		arch:        t.Arch,
		sep:         t.Separator,
		byName:      make(map[string][]int),
		varByName:   make(map[string]int),
		loadLines:   t.Lines,
		layouts:     t.Layouts,
		layoutCache: make(map[TypeRef][]StructMember),
		frames:      t.Frames,
		code:        t.Code,
		closer:      t.Closer,
	}
	if idx.sep == "" {
		idx.sep = SeparatorNative
	}

	idx.functions = dedupeFunctions(t.Functions)
	for i, fn := range idx.functions {
		idx.byName[fn.Name] = append(idx.byName[fn.Name], i)
		if stripped := StripParams(fn.Name); idx.sep == SeparatorNative && stripped != fn.Name {
			idx.byName[stripped] = append(idx.byName[stripped], i)
		}
		if fn.RawName != "" && fn.RawName != fn.Name {
			idx.byName[fn.RawName] = append(idx.byName[fn.RawName], i)
		}
	}

	idx.variables = append([]VariableInfo(nil), t.Variables...)
	for i := range idx.variables {
		v := &idx.variables[i]
		if v.ShortName == "" {
			v.ShortName = lastSegment(v.Name, idx.sep)
		}
		// First definition wins for every key.
		for _, key := range []string{v.Name, v.RawName, v.ShortName} {
			if key == "" {
				continue
			}
			if _, exists := idx.varByName[key]; !exists {
				idx.varByName[key] = i
			}
		}
	}

	return idx
}

// Empty returns an index with no symbols. Every query on it succeeds with an
// empty result.
func Empty() *Index {
	return NewIndex(zerolog.Nop(), Tables{})
}

func dedupeFunctions(in []FunctionInfo) []FunctionInfo {
	out := make([]FunctionInfo, 0, len(in))
	for _, fn := range in {
		if fn.HighPC <= fn.LowPC || fn.Name == "" {
			continue
		}
		out = append(out, fn)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LowPC < out[j].LowPC })

	deduped := out[:0]
	for i, fn := range out {
		if i > 0 && fn.LowPC == deduped[len(deduped)-1].LowPC {
			continue
		}
		deduped = append(deduped, fn)
	}
	return deduped
}

// Close releases the underlying binary file, if any.
func (idx *Index) Close() error {
	if idx.closer != nil {
		return idx.closer.Close()
	}
	return nil
}

// Path returns the path of the parsed binary.
func (idx *Index) Path() string { return idx.path }

// ImageBase is the file's assumed load address. The runtime slide is the
// actual load address minus this value.
func (idx *Index) ImageBase() uint64 { return idx.imageBase }

// Arch returns the machine architecture in GOARCH naming.
func (idx *Index) Arch() string { return idx.arch }

// Separator returns the name-segment separator for this image.
func (idx *Index) Separator() string { return idx.sep }

// FunctionCount returns the number of indexed functions.
func (idx *Index) FunctionCount() int { return len(idx.functions) }

// VariableCount returns the number of indexed global variables.
func (idx *Index) VariableCount() int { return len(idx.variables) }

// Functions returns every function, ordered by address.
func (idx *Index) Functions() []FunctionInfo {
	return append([]FunctionInfo(nil), idx.functions...)
}

// Variables returns every global variable.
func (idx *Index) Variables() []VariableInfo {
	return append([]VariableInfo(nil), idx.variables...)
}

// FindFunctions returns the functions whose name matches pattern, ordered by
// address. An invalid pattern matches nothing.
func (idx *Index) FindFunctions(pattern string) []FunctionInfo {
	if !strings.Contains(pattern, "*") {
		return idx.lookupFunctions(pattern)
	}

	p, err := CompilePattern(pattern, idx.sep)
	if err != nil {
		idx.logger.Debug().Err(err).Str("pattern", pattern).Msg("Ignoring invalid pattern")
		return nil
	}

	var out []FunctionInfo
	for _, fn := range idx.functions {
		if p.Match(fn.Name) {
			out = append(out, fn)
		}
	}
	return out
}

func (idx *Index) lookupFunctions(name string) []FunctionInfo {
	positions := idx.byName[name]
	if len(positions) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(positions))
	out := make([]FunctionInfo, 0, len(positions))
	for _, i := range positions {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, idx.functions[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LowPC < out[j].LowPC })
	return out
}

// FunctionsInFile returns functions whose source path contains substr.
// Functions without a declaration file are placed by the line entry at
// their entry point.
func (idx *Index) FunctionsInFile(substr string) []FunctionInfo {
	var out []FunctionInfo
	for _, fn := range idx.functions {
		file := fn.File
		if file == "" {
			if e, ok := idx.ResolveAddress(fn.LowPC); ok {
				file = e.File
			}
		}
		if file != "" && strings.Contains(file, substr) {
			out = append(out, fn)
		}
	}
	return out
}

// FunctionContaining returns the function whose range contains addr.
func (idx *Index) FunctionContaining(addr uint64) (FunctionInfo, bool) {
	i := sort.Search(len(idx.functions), func(i int) bool {
		return idx.functions[i].LowPC > addr
	})
	if i == 0 {
		return FunctionInfo{}, false
	}
	fn := idx.functions[i-1]
	if !fn.Contains(addr) {
		return FunctionInfo{}, false
	}
	return fn, true
}

// FunctionAt returns the function whose entry point is addr.
func (idx *Index) FunctionAt(addr uint64) (FunctionInfo, bool) {
	fn, ok := idx.FunctionContaining(addr)
	if !ok || fn.LowPC != addr {
		return FunctionInfo{}, false
	}
	return fn, true
}

// FindVariable looks up a global by demangled, raw or short name.
func (idx *Index) FindVariable(name string) (VariableInfo, error) {
	i, ok := idx.varByName[name]
	if !ok {
		return VariableInfo{}, fmt.Errorf("variable %s: %w", name, ErrNotFound)
	}
	v := idx.variables[i]
	if !v.Location.Supported() {
		return v, fmt.Errorf("variable %s: %w", name, ErrOptimizedOut)
	}
	return v, nil
}

// FindVariables returns the globals whose name matches pattern.
func (idx *Index) FindVariables(pattern string) []VariableInfo {
	p, err := CompilePattern(pattern, idx.sep)
	if err != nil {
		return nil
	}
	var out []VariableInfo
	for _, v := range idx.variables {
		if p.Match(v.Name) || (v.ShortName != v.Name && p.Match(v.ShortName)) {
			out = append(out, v)
		}
	}
	return out
}

// Locals returns the parameters and locals of the function containing pc
// that are in scope at pc.
func (idx *Index) Locals(pc uint64) ([]Local, error) {
	fn, ok := idx.FunctionContaining(pc)
	if !ok {
		return nil, fmt.Errorf("no function at 0x%x: %w", pc, ErrNotFound)
	}
	if idx.frames == nil {
		return nil, nil
	}
	return idx.frames.Locals(fn, pc)
}

// Parameters returns the formal parameters of fn in declaration order.
func (idx *Index) Parameters(fn FunctionInfo) ([]Local, error) {
	if idx.frames == nil {
		return nil, nil
	}
	return idx.frames.Parameters(fn)
}
