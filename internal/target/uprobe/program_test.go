package uprobe

import (
	"encoding/binary"
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/strobe/internal/target"
)

func TestEntryProgram(t *testing.T) {
	for _, arch := range []string{"amd64", "arm64"} {
		t.Run(arch, func(t *testing.T) {
			insns, err := entryProgram(3, arch)
			require.NoError(t, err)
			require.NotEmpty(t, insns)

			last := insns[len(insns)-1]
			assert.Equal(t, asm.Return().OpCode, last.OpCode)

			var calls []asm.BuiltinFunc
			exitLabels := 0
			for _, ins := range insns {
				if ins.IsBuiltinCall() {
					calls = append(calls, asm.BuiltinFunc(ins.Constant))
				}
				if ins.Symbol() == "exit" {
					exitLabels++
				}
			}
			assert.Equal(t, 1, exitLabels)
			assert.Contains(t, calls, asm.FnRingbufReserve)
			assert.Contains(t, calls, asm.FnRingbufSubmit)
			assert.Contains(t, calls, asm.FnGetAttachCookie)
			if arch == "amd64" {
				assert.Contains(t, calls, asm.FnProbeReadUser)
			} else {
				assert.NotContains(t, calls, asm.FnProbeReadUser)
			}
		})
	}

	_, err := entryProgram(3, "mips")
	assert.Error(t, err)
}

func TestDecodeRecord(t *testing.T) {
	raw := make([]byte, recordSize)
	le := binary.LittleEndian
	le.PutUint64(raw[0:], 7)
	le.PutUint64(raw[8:], 1234<<32|5678)
	for i := 0; i < numArgs; i++ {
		le.PutUint64(raw[16+8*i:], uint64(100+i))
	}
	le.PutUint64(raw[64:], 0xdead)
	le.PutUint64(raw[72:], 0x7ffc0000)

	rec, err := decodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.cookie)
	assert.Equal(t, uint64(5678), rec.tid())

	regs, err := layoutFor("amd64")
	require.NoError(t, err)
	cc := &callContext{rec: rec, addr: 0x401000, entry: true, regs: regs}

	assert.Equal(t, uint64(5678), cc.ThreadID())
	assert.Equal(t, uint64(0x401000), cc.Address())
	arg2, err := cc.Arg(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(102), arg2)
	_, err = cc.Arg(6)
	assert.ErrorIs(t, err, target.ErrUnavailable)

	rdi, err := cc.Register(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rdi)
	sp, err := cc.Register(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7ffc0000), sp)
	_, err = cc.Register(3)
	assert.ErrorIs(t, err, target.ErrUnavailable)

	ret, err := cc.ReturnAddress()
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdead), ret)

	mid := &callContext{rec: rec, addr: 0x401010, regs: regs}
	_, err = mid.ReturnAddress()
	assert.ErrorIs(t, err, target.ErrUnavailable, "stack top is not the return address past entry")

	_, err = decodeRecord(raw[:10])
	assert.Error(t, err)
}

func TestFileOffsets(t *testing.T) {
	offs := fileOffsets{{vaddr: 0x401000, memsz: 0x2000, off: 0x1000}}

	off, err := offs.offset(0x401234)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), off)

	_, err = offs.offset(0x500000)
	assert.Error(t, err)
}
