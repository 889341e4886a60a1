package debuginfo

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	strobeerrors "github.com/coral-mesh/strobe/internal/errors"
)

// Name-segment separators.
const (
	SeparatorNative = "::" // C++ and Rust
	SeparatorGo     = "."
)

const anonNamespace = "(anonymous namespace)"

// Pattern matches qualified names against a namespace glob. A lone "*"
// matches exactly one segment, a segment consisting of "**" matches one or
// more segments. Matching is full-string and case-sensitive.
type Pattern struct {
	raw         string
	sep         string
	literal     bool
	stripParams bool
	g           glob.Glob
}

// CompilePattern compiles pattern for names separated by sep.
func CompilePattern(pattern, sep string) (*Pattern, error) {
	if sep == "" {
		sep = SeparatorNative
	}
	p := &Pattern{
		raw:         pattern,
		sep:         sep,
		stripParams: sep == SeparatorNative,
	}
	if !strings.Contains(pattern, "*") {
		p.literal = true
		return p, nil
	}

	g, err := glob.Compile(translatePattern(pattern, sep), []rune(sep)[0])
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	p.g = g
	return p, nil
}

// MustCompilePattern is like CompilePattern but panics on error.
func MustCompilePattern(pattern, sep string) *Pattern {
	p, err := CompilePattern(pattern, sep)
	strobeerrors.Must(err, "compile pattern "+pattern)
	return p
}

// String returns the source pattern.
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether name matches the pattern.
func (p *Pattern) Match(name string) bool {
	if p.stripParams {
		name = StripParams(name)
	}
	if p.literal {
		return name == p.raw
	}
	return p.g.Match(name)
}

// translatePattern rewrites a namespace glob into gobwas syntax, quoting
// everything that is not a wildcard.
func translatePattern(pattern, sep string) string {
	segments := strings.Split(pattern, sep)
	out := make([]string, len(segments))
	for i, seg := range segments {
		if seg == "**" {
			// At least one character so "**" never matches an empty segment list.
			out[i] = "?**"
			continue
		}
		out[i] = translateSegment(seg)
	}
	return strings.Join(out, glob.QuoteMeta(sep))
}

func translateSegment(seg string) string {
	var b strings.Builder
	for len(seg) > 0 {
		star := strings.IndexByte(seg, '*')
		if star < 0 {
			b.WriteString(glob.QuoteMeta(seg))
			break
		}
		b.WriteString(glob.QuoteMeta(seg[:star]))
		run := 0
		for star+run < len(seg) && seg[star+run] == '*' {
			run++
		}
		if run > 1 {
			b.WriteString("**")
		} else {
			b.WriteString("*")
		}
		seg = seg[star+run:]
	}
	return b.String()
}

// StripParams removes a trailing C++ parameter list from a demangled name,
// keeping "(anonymous namespace)" segments intact.
func StripParams(name string) string {
	i := 0
	for i < len(name) {
		j := strings.IndexByte(name[i:], '(')
		if j < 0 {
			return name
		}
		j += i
		if strings.HasPrefix(name[j:], anonNamespace) {
			i = j + len(anonNamespace)
			continue
		}
		if j == 0 {
			return name
		}
		return name[:j]
	}
	return name
}

// lastSegment returns the final sep-separated segment of name.
func lastSegment(name, sep string) string {
	if sep == SeparatorNative {
		name = StripParams(name)
	}
	if i := strings.LastIndex(name, sep); i >= 0 {
		return name[i+len(sep):]
	}
	return name
}
