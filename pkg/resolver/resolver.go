// Package resolver turns human-level debugging targets into machine-level
// read recipes and code addresses using a debuginfo.Index.
//
// Three kinds of targets are understood:
//   - function patterns: namespace globs ("audio::*", "**::process") or
//     "@file:<substring>" to select by source path
//   - value expressions: a global optionally followed by "->member" hops,
//     compiled into a Recipe
//   - source locations: file:line, snapped to the first statement
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// FilePatternPrefix selects functions by source path instead of name.
const FilePatternPrefix = "@file:"

// ErrInvalidTarget is returned when a breakpoint target does not name
// exactly one of a function or a file:line.
var ErrInvalidTarget = errors.New("invalid breakpoint target")

// Resolver answers resolution queries against one index. It is stateless
// apart from the index and safe for concurrent use.
type Resolver struct {
	logger  zerolog.Logger
	idx     *debuginfo.Index
	nearest int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNearestLines sets how many alternatives a NoCodeAtLine error lists.
func WithNearestLines(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.nearest = n
		}
	}
}

// New creates a resolver over idx.
func New(logger zerolog.Logger, idx *debuginfo.Index, opts ...Option) *Resolver {
	r := &Resolver{
		logger:  logger.With().Str("component", "resolver").Logger(),
		idx:     idx,
		nearest: debuginfo.DefaultNearestLines,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Index returns the underlying index.
func (r *Resolver) Index() *debuginfo.Index {
	return r.idx
}

// ResolveTargets returns the set of functions a pattern selects, ordered by
// entry address.
func (r *Resolver) ResolveTargets(pattern string) ([]debuginfo.FunctionInfo, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern: %w", ErrInvalidExpression)
	}

	var fns []debuginfo.FunctionInfo
	if substr, ok := strings.CutPrefix(pattern, FilePatternPrefix); ok {
		if substr == "" {
			return nil, fmt.Errorf("empty file pattern: %w", ErrInvalidExpression)
		}
		fns = r.idx.FunctionsInFile(substr)
	} else {
		if _, err := debuginfo.CompilePattern(pattern, r.idx.Separator()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
		}
		fns = r.idx.FindFunctions(pattern)
	}

	fns = lo.UniqBy(fns, func(fn debuginfo.FunctionInfo) uint64 { return fn.LowPC })
	sort.Slice(fns, func(i, j int) bool { return fns[i].LowPC < fns[j].LowPC })

	r.logger.Debug().Str("pattern", pattern).Int("matches", len(fns)).Msg("Resolved targets")
	return fns, nil
}

// ResolveExpression compiles "root[->member]*" into a recipe.
func (r *Resolver) ResolveExpression(expr string) (Recipe, error) {
	root, path, err := ParseExpression(expr)
	if err != nil {
		return Recipe{}, err
	}

	v, err := r.idx.FindVariable(root)
	if err != nil {
		return Recipe{}, err
	}

	rec := Recipe{
		Label:       strings.TrimSpace(expr),
		BaseAddress: v.Address,
	}

	if len(path) == 0 {
		if !ValidSize(v.Size) {
			return Recipe{}, fmt.Errorf("%s is not a scalar (%d bytes): %w", root, v.Size, debuginfo.ErrTypeMismatch)
		}
		rec.FinalSize = uint8(v.Size)
		rec.Type = v.Type
		rec.TypeName = v.TypeName
		return rec, nil
	}

	isPointer := v.IsPointer()
	pointee := v.Pointee
	current := root
	for i, name := range path {
		if !isPointer {
			return Recipe{}, fmt.Errorf("%s is not a pointer: %w", current, debuginfo.ErrTypeMismatch)
		}
		m, err := r.idx.Member(pointee, name)
		if err != nil {
			return Recipe{}, fmt.Errorf("%s->%s: %w", current, name, err)
		}
		rec.DerefChain = append(rec.DerefChain, m.Offset)
		current = current + arrow + name

		if i == len(path)-1 {
			if !ValidSize(m.Size) {
				return Recipe{}, fmt.Errorf("%s is not a scalar (%d bytes): %w", current, m.Size, debuginfo.ErrTypeMismatch)
			}
			rec.FinalSize = uint8(m.Size)
			rec.Type = m.Type
			rec.TypeName = m.TypeName
			break
		}
		isPointer = m.IsPointer
		pointee = m.Pointee
	}

	return rec, nil
}

// Field is one flattened member of a struct read target.
type Field struct {
	Recipe    Recipe `json:"recipe"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ReadTarget is a value plus, for pointers to structs, its expanded fields.
type ReadTarget struct {
	Recipe Recipe  `json:"recipe"`
	Fields []Field `json:"fields,omitempty"`
}

// ResolveReadTarget resolves expr and, when it names a pointer to a struct,
// expands the pointed-to struct up to depth levels.
func (r *Resolver) ResolveReadTarget(expr string, depth int) (ReadTarget, error) {
	rec, err := r.ResolveExpression(expr)
	if err != nil {
		return ReadTarget{}, err
	}
	target := ReadTarget{Recipe: rec}
	if rec.Type.Kind != debuginfo.KindPointer {
		return target, nil
	}

	pointee, err := r.pointeeOf(expr)
	if err != nil || pointee == debuginfo.NoType {
		return target, nil
	}
	members, err := r.idx.Expand(pointee, depth)
	if err != nil {
		// Pointers to scalars or opaque structs have nothing to expand.
		return target, nil
	}

	target.Fields = flatten(rec, rec.DerefChain, rec.Label, members)
	return target, nil
}

func (r *Resolver) pointeeOf(expr string) (debuginfo.TypeRef, error) {
	root, path, err := ParseExpression(expr)
	if err != nil {
		return debuginfo.NoType, err
	}
	v, err := r.idx.FindVariable(root)
	if err != nil {
		return debuginfo.NoType, err
	}
	pointee := v.Pointee
	for _, name := range path {
		m, err := r.idx.Member(pointee, name)
		if err != nil {
			return debuginfo.NoType, err
		}
		pointee = m.Pointee
	}
	return pointee, nil
}

func flatten(base Recipe, chain []uint64, label string, members []debuginfo.StructMember) []Field {
	var out []Field
	for _, m := range members {
		if !ValidSize(m.Size) || m.Name == "" {
			continue
		}
		fieldChain := append(append([]uint64(nil), chain...), m.Offset)
		fieldLabel := label + arrow + m.Name
		out = append(out, Field{
			Recipe: Recipe{
				Label:       fieldLabel,
				BaseAddress: base.BaseAddress,
				DerefChain:  fieldChain,
				FinalSize:   uint8(m.Size),
				Type:        m.Type,
				TypeName:    m.TypeName,
			},
			Truncated: m.Truncated,
		})
		if len(m.Members) > 0 {
			out = append(out, flatten(base, fieldChain, fieldLabel, m.Members)...)
		}
	}
	return out
}

// ResolveLine maps file:line to the address of its first statement.
func (r *Resolver) ResolveLine(file string, line uint32) (addr uint64, actual uint32, ok bool) {
	return r.idx.ResolveLine(file, line)
}

// Target names where a breakpoint goes: a function, or a file and line.
type Target struct {
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Line     uint32 `json:"line,omitempty" yaml:"line,omitempty"`
}

// Validate checks that exactly one form is set.
func (t Target) Validate() error {
	hasFunc := t.Function != ""
	hasLine := t.File != "" || t.Line != 0
	switch {
	case hasFunc && hasLine:
		return fmt.Errorf("both function and line given: %w", ErrInvalidTarget)
	case !hasFunc && !hasLine:
		return fmt.Errorf("neither function nor line given: %w", ErrInvalidTarget)
	case hasLine && (t.File == "" || t.Line == 0):
		return fmt.Errorf("line target needs both file and line: %w", ErrInvalidTarget)
	}
	return nil
}

// String formats the target for logs and ids.
func (t Target) String() string {
	if t.Function != "" {
		return t.Function
	}
	return fmt.Sprintf("%s:%d", t.File, t.Line)
}

// Location is a resolved code location. Address is a file address.
type Location struct {
	Address  uint64                 `json:"address"`
	Function debuginfo.FunctionInfo `json:"function"`
	File     string                 `json:"file,omitempty"`
	Line     uint32                 `json:"line,omitempty"`
}

// ResolveBreakpoint resolves a breakpoint target to a code location. A
// function pattern selecting several functions uses the lowest address.
func (r *Resolver) ResolveBreakpoint(t Target) (Location, error) {
	if err := t.Validate(); err != nil {
		return Location{}, err
	}

	if t.Function != "" {
		fns, err := r.ResolveTargets(t.Function)
		if err != nil {
			return Location{}, err
		}
		if len(fns) == 0 {
			return Location{}, fmt.Errorf("function %s: %w", t.Function, debuginfo.ErrNotFound)
		}
		if len(fns) > 1 {
			r.logger.Warn().
				Str("target", t.Function).
				Int("matches", len(fns)).
				Str("chosen", fns[0].Name).
				Msg("Function target is ambiguous, using lowest address")
		}
		fn := fns[0]
		loc := Location{Address: fn.LowPC, Function: fn, File: fn.File, Line: fn.Line}
		if e, ok := r.idx.ResolveAddress(fn.LowPC); ok {
			loc.File, loc.Line = e.File, e.Line
		}
		return loc, nil
	}

	addr, actual, ok := r.idx.ResolveLine(t.File, t.Line)
	if !ok {
		return Location{}, r.idx.NoCodeError(t.File, t.Line, r.nearest)
	}
	loc := Location{Address: addr, File: t.File, Line: actual}
	if fn, ok := r.idx.FunctionContaining(addr); ok {
		loc.Function = fn
	}
	if e, ok := r.idx.ResolveAddress(addr); ok {
		loc.File = e.File
	}
	return loc, nil
}
