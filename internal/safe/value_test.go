package safe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUint64ToInt64(t *testing.T) {
	tests := []struct {
		name        string
		input       uint64
		want        int64
		wantClamped bool
	}{
		{name: "zero", input: 0, want: 0},
		{name: "small", input: 0x55d4c0000000, want: 0x55d4c0000000},
		{name: "max int64", input: math.MaxInt64, want: math.MaxInt64},
		{name: "overflow", input: math.MaxInt64 + 1, want: math.MaxInt64, wantClamped: true},
		{name: "max uint64", input: math.MaxUint64, want: math.MaxInt64, wantClamped: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clamped := Uint64ToInt64(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantClamped, clamped)
		})
	}
}

func TestOffset(t *testing.T) {
	tests := []struct {
		name        string
		addr        uint64
		delta       int64
		want        uint64
		wantWrapped bool
	}{
		{name: "positive", addr: 0x1000, delta: 0x10000, want: 0x11000},
		{name: "negative", addr: 0x11000, delta: -0x10000, want: 0x1000},
		{name: "zero", addr: 0x1000, want: 0x1000},
		{name: "wraps high", addr: math.MaxUint64, delta: 1, want: 0, wantWrapped: true},
		{name: "wraps low", addr: 0x10, delta: -0x20, want: math.MaxUint64 - 0xf, wantWrapped: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, wrapped := Offset(tt.addr, tt.delta)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantWrapped, wrapped)
		})
	}
}
