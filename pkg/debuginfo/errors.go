package debuginfo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when a symbol does not exist in the index.
	ErrNotFound = errors.New("not found")

	// ErrTypeMismatch is returned when "->" is applied to a non-pointer, or a
	// value is not readable as a scalar.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrMissingLayout is returned when a struct layout cannot be resolved.
	ErrMissingLayout = errors.New("struct layout unavailable")

	// ErrOptimizedOut is returned for variables that exist but have no
	// supported location.
	ErrOptimizedOut = errors.New("optimized out")

	// ErrNoDebugInfo is returned when no DWARF data can be found for a binary.
	ErrNoDebugInfo = errors.New("no debug info")

	// ErrNoCodeAtLine is matched by *NoCodeAtLineError.
	ErrNoCodeAtLine = errors.New("no code at line")
)

// NoCodeAtLineError reports a source line without instructions, with the
// closest lines that do have code.
type NoCodeAtLineError struct {
	File    string
	Line    uint32
	Nearest []uint32
}

func (e *NoCodeAtLineError) Error() string {
	msg := fmt.Sprintf("no code at %s:%d", e.File, e.Line)
	if len(e.Nearest) > 0 {
		msg += "; nearby lines with code: " + JoinLines(e.Nearest)
	}
	return msg
}

// Is makes errors.Is(err, ErrNoCodeAtLine) work.
func (e *NoCodeAtLineError) Is(target error) bool {
	return target == ErrNoCodeAtLine
}

// JoinLines formats line numbers as "98, 102, 105".
func JoinLines(lines []uint32) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = strconv.FormatUint(uint64(l), 10)
	}
	return strings.Join(parts, ", ")
}
