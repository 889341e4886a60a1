//go:build linux

package procmem

import (
	"encoding/binary"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var selfValue uint64 = 0x0102030405060708

func TestReadWriteSelf(t *testing.T) {
	m := New(os.Getpid())
	addr := uint64(uintptr(unsafe.Pointer(&selfValue)))

	buf, err := m.ReadMemory(addr, 8)
	if err != nil {
		t.Skipf("process_vm_readv unavailable: %v", err)
	}
	assert.Equal(t, selfValue, binary.LittleEndian.Uint64(buf))

	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, 42)
	require.NoError(t, m.WriteMemory(addr, out))
	assert.Equal(t, uint64(42), selfValue)

	_, err = m.ReadMemory(0, 8)
	assert.Error(t, err)
}
