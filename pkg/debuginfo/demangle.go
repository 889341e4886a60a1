package debuginfo

import (
	"regexp"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Legacy Rust symbols end in a 16 hex digit disambiguator segment.
var rustHashSuffix = regexp.MustCompile(`::h[0-9a-f]{16}$`)

// Demangle converts an Itanium C++ or Rust symbol into its readable form.
// Names that are not mangled are returned unchanged.
func Demangle(name string) string {
	sym := name
	if strings.HasPrefix(sym, "__Z") || strings.HasPrefix(sym, "__R") {
		// Mach-O symbol tables add a leading underscore.
		sym = sym[1:]
	}
	if !strings.HasPrefix(sym, "_Z") && !strings.HasPrefix(sym, "_R") {
		return name
	}

	out := demangle.Filter(sym)
	if out == sym {
		return name
	}
	return rustHashSuffix.ReplaceAllString(out, "")
}
