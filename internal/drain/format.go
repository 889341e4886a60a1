package drain

import (
	"fmt"
	"math"
	"strconv"

	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// FormatValue renders a raw slot reading of size bytes according to kind.
// Integers are sign- or zero-extended from their width, 4 and 8 byte floats
// are reinterpreted as IEEE-754 and pointers print as hex.
func FormatValue(raw uint64, size uint8, kind debuginfo.TypeKind) string {
	raw = debuginfo.Truncate(raw, uint64(size))
	switch kind.Kind {
	case debuginfo.KindInteger:
		if kind.Signed {
			return strconv.FormatInt(debuginfo.SignExtend(raw, uint64(size)), 10)
		}
		return strconv.FormatUint(raw, 10)
	case debuginfo.KindFloat:
		switch size {
		case 4:
			return strconv.FormatFloat(float64(math.Float32frombits(uint32(raw))), 'g', -1, 32)
		case 8:
			return strconv.FormatFloat(math.Float64frombits(raw), 'g', -1, 64)
		}
	case debuginfo.KindPointer:
		return fmt.Sprintf("0x%x", raw)
	}
	return fmt.Sprintf("0x%0*x", int(size)*2, raw)
}
