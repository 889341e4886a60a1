package drain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		raw  uint64
		size uint8
		kind debuginfo.TypeKind
		want string
	}{
		{"int8 negative", 0xff, 1, debuginfo.SignedType, "-1"},
		{"int16 negative", 0xfffe, 2, debuginfo.SignedType, "-2"},
		{"int32 negative", 0xfffffff9, 4, debuginfo.SignedType, "-7"},
		{"int32 positive", 42, 4, debuginfo.SignedType, "42"},
		{"int64 min", 1 << 63, 8, debuginfo.SignedType, "-9223372036854775808"},
		{"uint32", 0xffffffff, 4, debuginfo.UnsignedType, "4294967295"},
		{"uint16 ignores high bits", 0xdead0001, 2, debuginfo.UnsignedType, "1"},
		{"float32", uint64(math.Float32bits(0.25)), 4, debuginfo.FloatType, "0.25"},
		{"float64", math.Float64bits(-3.5), 8, debuginfo.FloatType, "-3.5"},
		{"pointer", 0x7ffc1000, 8, debuginfo.PointerType, "0x7ffc1000"},
		{"unknown", 0xab, 2, debuginfo.UnknownType, "0x00ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.raw, tt.size, tt.kind))
		})
	}
}
