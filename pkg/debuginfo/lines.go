package debuginfo

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultNearestLines is how many alternative lines a NoCodeAtLine hint lists.
const DefaultNearestLines = 3

// LineTable returns the full line table, loading it on first use.
func (idx *Index) LineTable() ([]LineEntry, error) {
	idx.lineOnce.Do(func() {
		if idx.loadLines == nil {
			return
		}
		entries, err := idx.loadLines()
		if err != nil {
			idx.lineErr = fmt.Errorf("failed to load line table: %w", err)
			return
		}
		sorted := append([]LineEntry(nil), entries...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })
		idx.lines = sorted
		idx.logger.Debug().Int("entries", len(sorted)).Msg("Loaded line table")
	})
	return idx.lines, idx.lineErr
}

func (idx *Index) lineTable() []LineEntry {
	lines, err := idx.LineTable()
	if err != nil {
		idx.logger.Warn().Err(err).Msg("Line table unavailable")
	}
	return lines
}

// fileMatches reports whether path names file, either exactly or as a
// trailing path component sequence.
func fileMatches(path, file string) bool {
	if path == file {
		return true
	}
	if !strings.HasSuffix(path, file) {
		return false
	}
	c := path[len(path)-len(file)-1]
	return c == '/' || c == '\\'
}

// ResolveLine maps file:line to the address of its first statement. Lines
// without any line-table entry (comments, blank lines) return ok=false. A
// line whose entries are all non-statement instructions snaps forward to the
// next statement line of the same function.
func (idx *Index) ResolveLine(file string, line uint32) (addr uint64, actual uint32, ok bool) {
	var (
		found     bool
		best      LineEntry
		nonStmtPC uint64
		hasNonStm bool
	)
	for _, e := range idx.lineTable() {
		if e.Line != line || !fileMatches(e.File, file) {
			continue
		}
		if e.IsStatement {
			if !found || e.Address < best.Address {
				best = e
				found = true
			}
			continue
		}
		if !hasNonStm || e.Address < nonStmtPC {
			nonStmtPC = e.Address
			hasNonStm = true
		}
	}
	if found {
		return best.Address, best.Line, true
	}
	if !hasNonStm {
		return 0, 0, false
	}

	fn, inFunc := idx.FunctionContaining(nonStmtPC)
	if !inFunc {
		return 0, 0, false
	}

	found = false
	for _, e := range idx.lineTable() {
		if !e.IsStatement || e.Line < line || !fn.Contains(e.Address) || !fileMatches(e.File, file) {
			continue
		}
		if !found || e.Line < best.Line || (e.Line == best.Line && e.Address < best.Address) {
			best = e
			found = true
		}
	}
	if !found {
		return 0, 0, false
	}
	return best.Address, best.Line, true
}

// NearestLines returns up to n distinct statement lines in file closest to
// line, ordered by distance and then by line number.
func (idx *Index) NearestLines(file string, line uint32, n int) []uint32 {
	if n <= 0 {
		n = DefaultNearestLines
	}
	seen := make(map[uint32]struct{})
	var candidates []uint32
	for _, e := range idx.lineTable() {
		if !e.IsStatement || e.Line == 0 || !fileMatches(e.File, file) {
			continue
		}
		if _, ok := seen[e.Line]; ok {
			continue
		}
		seen[e.Line] = struct{}{}
		candidates = append(candidates, e.Line)
	}

	dist := func(l uint32) uint32 {
		if l > line {
			return l - line
		}
		return line - l
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := dist(candidates[i]), dist(candidates[j])
		if di != dj {
			return di < dj
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// NoCodeError builds the error for a line with no code, including the
// nearest alternatives.
func (idx *Index) NoCodeError(file string, line uint32, hint int) *NoCodeAtLineError {
	return &NoCodeAtLineError{File: file, Line: line, Nearest: idx.NearestLines(file, line, hint)}
}

// ResolveAddress returns the line entry closest at-or-before addr, provided
// addr lies in a known function.
func (idx *Index) ResolveAddress(addr uint64) (LineEntry, bool) {
	fn, ok := idx.FunctionContaining(addr)
	if !ok {
		return LineEntry{}, false
	}

	lines := idx.lineTable()
	i := sort.Search(len(lines), func(i int) bool { return lines[i].Address > addr })
	for j := i - 1; j >= 0; j-- {
		e := lines[j]
		if e.Address < fn.LowPC {
			break
		}
		if e.Line == 0 {
			continue
		}
		return e, true
	}
	return LineEntry{}, false
}

// NextStatementInFunction returns the first statement after addr that
// begins a different source line of the same file and function. Candidates
// must be at least addr+minOffset. The result always lies inside the
// originating function.
func (idx *Index) NextStatementInFunction(addr, minOffset uint64) (LineEntry, bool) {
	fn, ok := idx.FunctionContaining(addr)
	if !ok {
		return LineEntry{}, false
	}
	cur, ok := idx.ResolveAddress(addr)
	if !ok {
		return LineEntry{}, false
	}

	lines := idx.lineTable()
	start := sort.Search(len(lines), func(i int) bool { return lines[i].Address > addr })
	limit := addr + minOffset
	for _, e := range lines[start:] {
		if e.Address >= fn.HighPC {
			break
		}
		if !e.IsStatement || e.Address < limit || e.Line == 0 {
			continue
		}
		if e.File != cur.File || e.Line == cur.Line {
			continue
		}
		return e, true
	}
	return LineEntry{}, false
}

// LineRange returns the address range [start, end) of the statement row
// containing addr: from its line entry up to the next entry with a
// different line, clipped to the function.
func (idx *Index) LineRange(addr uint64) (start, end uint64, ok bool) {
	fn, ok := idx.FunctionContaining(addr)
	if !ok {
		return 0, 0, false
	}
	cur, ok := idx.ResolveAddress(addr)
	if !ok {
		return 0, 0, false
	}

	lines := idx.lineTable()
	end = fn.HighPC
	i := sort.Search(len(lines), func(i int) bool { return lines[i].Address > addr })
	for _, e := range lines[i:] {
		if e.Address >= fn.HighPC {
			break
		}
		if e.Line != cur.Line || e.File != cur.File {
			end = e.Address
			break
		}
	}
	return cur.Address, end, true
}
