package memtarget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/strobe/internal/target"
)

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory()

	_, err := m.ReadMemory(0x1000, 4)
	assert.ErrorIs(t, err, target.ErrFault)
	assert.ErrorIs(t, m.WriteMemory(0x1000, []byte{1}), target.ErrFault)

	m.PutUint64(0x1ffc, 0x1122334455667788)
	v, err := m.Uint(0x1ffc, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), v, "value spans a page boundary")

	m.PutInt32(0x3000, -2)
	v, err = m.Uint(0x3000, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfffffffe), v)

	_, err = m.ReadMemory(0x3ffe, 4)
	assert.ErrorIs(t, err, target.ErrFault)
}

func TestInterceptor(t *testing.T) {
	ic := NewInterceptor()
	var hits []uint64

	h1, err := ic.Attach(0x10, func(cc target.CallContext) { hits = append(hits, cc.ThreadID()) })
	require.NoError(t, err)
	_, err = ic.Attach(0x10, func(cc target.CallContext) { hits = append(hits, cc.ThreadID()+100) })
	require.NoError(t, err)

	assert.Equal(t, 2, ic.Call(&Call{TID: 1, PC: 0x10}))
	assert.Equal(t, []uint64{1, 101}, hits)
	assert.Zero(t, ic.Call(&Call{TID: 1, PC: 0x20}))

	require.NoError(t, ic.Detach(h1))
	assert.ErrorIs(t, ic.Detach(h1), target.ErrUnknownHandle)
	assert.Equal(t, 1, ic.Count(0x10))
	assert.Equal(t, []uint64{0x10}, ic.Attached())

	ic.FailAttach(0x30, target.ErrUnsupported)
	_, err = ic.Attach(0x30, func(target.CallContext) {})
	assert.ErrorIs(t, err, target.ErrUnsupported)
}

func TestCallContext(t *testing.T) {
	cc := &Call{TID: 9, PC: 0x40, Args: []uint64{7}, Regs: map[uint64]uint64{5: 3}, Return: 0x99}

	v, err := cc.Arg(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
	_, err = cc.Arg(1)
	assert.ErrorIs(t, err, target.ErrUnavailable)

	v, err = cc.Register(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)
	_, err = cc.Register(6)
	assert.ErrorIs(t, err, target.ErrUnavailable)

	ret, err := cc.ReturnAddress()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x99), ret)
	_, err = (&Call{}).ReturnAddress()
	assert.ErrorIs(t, err, target.ErrUnavailable)
}
