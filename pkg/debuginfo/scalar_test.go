package debuginfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalarWidths(t *testing.T) {
	tests := []struct {
		raw, size uint64
		signed    int64
		truncated uint64
	}{
		{0xff, 1, -1, 0xff},
		{0x1ff, 1, -1, 0xff},
		{0x7f, 1, 127, 0x7f},
		{0xfffe, 2, -2, 0xfffe},
		{0xdead_ffff_fff9, 4, -7, 0xffff_fff9},
		{0x8000_0000_0000_0000, 8, -1 << 63, 0x8000_0000_0000_0000},
		{0x1234, 0, 0x1234, 0x1234},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.signed, SignExtend(tt.raw, tt.size), "SignExtend(%#x, %d)", tt.raw, tt.size)
		assert.Equal(t, tt.truncated, Truncate(tt.raw, tt.size), "Truncate(%#x, %d)", tt.raw, tt.size)
	}
}
