package session

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/strobe/internal/config"
	strobeerrors "github.com/coral-mesh/strobe/internal/errors"
	"github.com/coral-mesh/strobe/internal/target"
	"github.com/coral-mesh/strobe/internal/target/procmem"
	"github.com/coral-mesh/strobe/internal/target/uprobe"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// ProcessBackend attaches to a live process with eBPF uprobes, reads and
// writes its memory through process_vm_readv/writev and derives the slide
// from /proc/<pid>/maps. It reads only the executable's headers; the parse
// behind handle may still be running.
func ProcessBackend(cfg *config.Config, logger zerolog.Logger) Backend {
	return func(proc target.ProcessInfo, handle *debuginfo.Handle, opts *Options) error {
		pid := int(proc.PID)
		base, err := debuginfo.ImageBase(proc.Exe)
		if err != nil {
			return fmt.Errorf("image base: %w", err)
		}
		slide := target.NewProcSlide(pid, proc.Exe, base)
		icpt, err := uprobe.New(uprobe.Config{
			PID:           pid,
			BinaryPath:    proc.Exe,
			Slide:         slide,
			RingBytes:     cfg.Uprobe.RingBytes,
			QueueSize:     cfg.Uprobe.QueueSize,
			WorkerIdle:    cfg.Uprobe.WorkerIdle,
			FunctionEntry: functionEntry(handle),
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		opts.Interceptor = icpt
		opts.Memory = procmem.New(pid)
		opts.Slide = slide
		opts.Closers = append(opts.Closers, icpt)
		return nil
	}
}

// functionEntry reports whether a file address starts a function of the
// parsed index. Before the parse finishes every address counts as
// mid-function.
func functionEntry(handle *debuginfo.Handle) func(uint64) bool {
	return func(addr uint64) bool {
		idx, done, err := handle.TryGet()
		if !done || err != nil {
			return false
		}
		fn, ok := idx.FunctionContaining(addr)
		return ok && fn.LowPC == addr
	}
}

func closeAll(opts Options) error {
	return strobeerrors.CloseAll(opts.Closers...)
}
