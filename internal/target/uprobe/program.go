// Package uprobe implements target.Interceptor with eBPF uprobes.
//
// Every attachment shares one small program that copies the integer
// argument registers, the stack pointer and the return address of the
// intercepted call into a ring buffer. A reader goroutine turns records into
// target.CallContext values and runs the handler on a per-thread dispatch
// goroutine. The traced thread itself is never stopped: a handler that
// blocks holds back further dispatch for that thread only.
package uprobe

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf/asm"
)

// recordSize is the size of one ring buffer record:
//
//	0  cookie
//	8  pid_tgid
//	16 args[6]
//	64 return address
//	72 stack pointer
const recordSize = 80

const numArgs = 6

// regLayout holds pt_regs offsets for one architecture.
type regLayout struct {
	args [numArgs]int16
	sp   int16
	// link is the offset of the link register, or -1 when the return
	// address lives at the top of the stack.
	link int16
	// dwarf maps DWARF register numbers to record fields.
	dwarf map[uint64]int
}

// Record field indexes used by regLayout.dwarf.
const (
	fieldArg0 = iota
	fieldArg1
	fieldArg2
	fieldArg3
	fieldArg4
	fieldArg5
	fieldSP
	fieldReturn
)

var layouts = map[string]regLayout{
	// struct pt_regs: rdi, rsi, rdx, rcx, r8, r9 and sp.
	"amd64": {
		args: [numArgs]int16{112, 104, 96, 88, 72, 64},
		sp:   152,
		link: -1,
		dwarf: map[uint64]int{
			5: fieldArg0, 4: fieldArg1, 1: fieldArg2, 2: fieldArg3,
			8: fieldArg4, 9: fieldArg5, 7: fieldSP,
		},
	},
	// struct user_pt_regs: x0..x5, x30 and sp.
	"arm64": {
		args: [numArgs]int16{0, 8, 16, 24, 32, 40},
		sp:   248,
		link: 240,
		dwarf: map[uint64]int{
			0: fieldArg0, 1: fieldArg1, 2: fieldArg2, 3: fieldArg3,
			4: fieldArg4, 5: fieldArg5, 30: fieldReturn, 31: fieldSP,
		},
	},
}

func layoutFor(arch string) (regLayout, error) {
	l, ok := layouts[arch]
	if !ok {
		return regLayout{}, fmt.Errorf("uprobe: unsupported architecture %q", arch)
	}
	return l, nil
}

// entryProgram builds the uprobe program for arch writing into the ring
// buffer map eventsFD.
func entryProgram(eventsFD int, arch string) (asm.Instructions, error) {
	regs, err := layoutFor(arch)
	if err != nil {
		return nil, err
	}

	insns := asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.LoadMapPtr(asm.R1, eventsFD),
		asm.Mov.Imm(asm.R2, recordSize),
		asm.Mov.Imm(asm.R3, 0),
		asm.FnRingbufReserve.Call(),
		asm.JEq.Imm(asm.R0, 0, "exit"),
		asm.Mov.Reg(asm.R7, asm.R0),

		asm.Mov.Reg(asm.R1, asm.R6),
		asm.FnGetAttachCookie.Call(),
		asm.StoreMem(asm.R7, 0, asm.R0, asm.DWord),
		asm.FnGetCurrentPidTgid.Call(),
		asm.StoreMem(asm.R7, 8, asm.R0, asm.DWord),
	}
	for i, off := range regs.args {
		insns = append(insns,
			asm.LoadMem(asm.R1, asm.R6, off, asm.DWord),
			asm.StoreMem(asm.R7, int16(16+8*i), asm.R1, asm.DWord),
		)
	}
	insns = append(insns,
		asm.LoadMem(asm.R1, asm.R6, regs.sp, asm.DWord),
		asm.StoreMem(asm.R7, 72, asm.R1, asm.DWord),
	)

	if regs.link >= 0 {
		insns = append(insns,
			asm.LoadMem(asm.R1, asm.R6, regs.link, asm.DWord),
			asm.StoreMem(asm.R7, 64, asm.R1, asm.DWord),
		)
	} else {
		insns = append(insns,
			asm.StoreImm(asm.R7, 64, 0, asm.DWord),
			asm.Mov.Reg(asm.R1, asm.R7),
			asm.Add.Imm(asm.R1, 64),
			asm.Mov.Imm(asm.R2, 8),
			asm.LoadMem(asm.R3, asm.R6, regs.sp, asm.DWord),
			asm.FnProbeReadUser.Call(),
		)
	}

	insns = append(insns,
		asm.Mov.Reg(asm.R1, asm.R7),
		asm.Mov.Imm(asm.R2, 0),
		asm.FnRingbufSubmit.Call(),
		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	)
	return insns, nil
}

// record is a decoded ring buffer sample.
type record struct {
	cookie  uint64
	pidTgid uint64
	fields  [fieldReturn + 1]uint64
}

func (r record) tid() uint64 { return r.pidTgid & 0xffffffff }

func decodeRecord(raw []byte) (record, error) {
	if len(raw) < recordSize {
		return record{}, fmt.Errorf("uprobe record too short: %d bytes", len(raw))
	}
	le := binary.LittleEndian
	r := record{
		cookie:  le.Uint64(raw[0:]),
		pidTgid: le.Uint64(raw[8:]),
	}
	for i := 0; i < numArgs; i++ {
		r.fields[fieldArg0+i] = le.Uint64(raw[16+8*i:])
	}
	r.fields[fieldReturn] = le.Uint64(raw[64:])
	r.fields[fieldSP] = le.Uint64(raw[72:])
	return r, nil
}
