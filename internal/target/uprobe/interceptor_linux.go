//go:build linux

package uprobe

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/coral-mesh/strobe/internal/constants"
	"github.com/coral-mesh/strobe/internal/target"
)

// Defaults for Config.
const (
	DefaultRingBytes  = constants.DefaultUprobeRingBytes
	DefaultQueueSize  = constants.DefaultUprobeQueueSize
	DefaultWorkerIdle = constants.DefaultUprobeWorkerIdle
)

// Config contains configuration for the uprobe interceptor.
type Config struct {
	// PID of the target process. Probes only fire for this process.
	PID int

	// BinaryPath is the executable to attach to. Empty means /proc/<pid>/exe,
	// which also works when the binary is only visible in the target's
	// mount namespace.
	BinaryPath string

	// Slide converts runtime addresses given to Attach back to file
	// addresses.
	Slide target.SlideProvider

	// RingBytes is the kernel ring buffer size, a power of two.
	RingBytes int

	// QueueSize bounds the per-thread dispatch queue. Records for a thread
	// whose queue is full are dropped.
	QueueSize int

	// WorkerIdle is how long a thread's dispatch worker lives without hits.
	WorkerIdle time.Duration

	// FunctionEntry reports whether a file address is a function's first
	// instruction. Only there is the return address on top of the stack;
	// hits elsewhere report it as unavailable. Nil treats every address as
	// mid-function.
	FunctionEntry func(fileAddr uint64) bool

	Logger zerolog.Logger
}

type probe struct {
	id      uint64
	addr    uint64
	entry   bool
	handler target.HitHandler
	link    link.Link
}

func (p *probe) Address() uint64 { return p.addr }

// Interceptor attaches uprobes to one executable.
type Interceptor struct {
	cfg     Config
	logger  zerolog.Logger
	regs    regLayout
	offsets fileOffsets

	exe    *link.Executable
	events *ebpf.Map
	prog   *ebpf.Program
	reader *ringbuf.Reader

	mu     sync.Mutex
	nextID uint64
	probes map[uint64]*probe
	queues *threadQueues

	dropped atomic.Uint64
	done    chan struct{}
}

// New loads the entry program and starts reading its ring buffer.
func New(cfg Config) (*Interceptor, error) {
	if cfg.PID <= 0 {
		return nil, fmt.Errorf("uprobe: pid is required")
	}
	if cfg.Slide == nil {
		cfg.Slide = target.StaticSlide(0)
	}
	if cfg.RingBytes == 0 {
		cfg.RingBytes = DefaultRingBytes
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WorkerIdle <= 0 {
		cfg.WorkerIdle = DefaultWorkerIdle
	}
	path := cfg.BinaryPath
	if path == "" {
		path = fmt.Sprintf("/proc/%d/exe", cfg.PID)
	}

	if err := Preflight("/proc/self/status"); err != nil {
		return nil, err
	}
	regs, err := layoutFor(runtime.GOARCH)
	if err != nil {
		return nil, err
	}
	offsets, err := loadFileOffsets(path)
	if err != nil {
		return nil, err
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("remove memlock: %w", err)
	}

	i := &Interceptor{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "uprobe").Int("pid", cfg.PID).Logger(),
		regs:    regs,
		offsets: offsets,
		probes:  make(map[uint64]*probe),
		done:    make(chan struct{}),
	}
	i.queues = newThreadQueues(cfg.QueueSize, cfg.WorkerIdle, i.deliver)

	i.events, err = ebpf.NewMap(&ebpf.MapSpec{
		Name:       "strobe_events",
		Type:       ebpf.RingBuf,
		MaxEntries: uint32(cfg.RingBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("create ring buffer: %w", err)
	}

	insns, err := entryProgram(i.events.FD(), runtime.GOARCH)
	if err != nil {
		i.events.Close() // nolint:errcheck
		return nil, err
	}
	i.prog, err = ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "strobe_entry",
		Type:         ebpf.Kprobe,
		License:      "GPL",
		Instructions: insns,
	})
	if err != nil {
		i.events.Close() // nolint:errcheck
		return nil, fmt.Errorf("load entry program: %w", err)
	}

	i.exe, err = link.OpenExecutable(path)
	if err != nil {
		i.prog.Close()   // nolint:errcheck
		i.events.Close() // nolint:errcheck
		return nil, fmt.Errorf("open executable (path=%s): %w", path, err)
	}

	i.reader, err = ringbuf.NewReader(i.events)
	if err != nil {
		i.prog.Close()   // nolint:errcheck
		i.events.Close() // nolint:errcheck
		return nil, fmt.Errorf("create ringbuf reader: %w", err)
	}

	go i.readLoop()

	i.logger.Info().Str("binary_path", path).Msg("Uprobe interceptor ready")
	return i, nil
}

// Attach implements target.Interceptor. addr is a runtime address.
func (i *Interceptor) Attach(addr uint64, handler target.HitHandler) (target.Handle, error) {
	slide, err := i.cfg.Slide.Slide()
	if err != nil {
		return nil, fmt.Errorf("image slide: %w", err)
	}
	fileAddr := uint64(int64(addr) - slide)
	off, err := i.offsets.offset(fileAddr)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.nextID++
	p := &probe{id: i.nextID, addr: addr, handler: handler}
	if i.cfg.FunctionEntry != nil {
		p.entry = i.cfg.FunctionEntry(fileAddr)
	}
	p.link, err = i.exe.Uprobe("", i.prog, &link.UprobeOptions{
		Address: off,
		PID:     i.cfg.PID,
		Cookie:  p.id,
	})
	if err != nil {
		return nil, fmt.Errorf("attach uprobe at 0x%x: %w", addr, err)
	}
	i.probes[p.id] = p

	i.logger.Debug().
		Uint64("address", addr).
		Uint64("file_offset", off).
		Uint64("probe_id", p.id).
		Msg("Attached uprobe")
	return p, nil
}

// Detach implements target.Interceptor.
func (i *Interceptor) Detach(h target.Handle) error {
	p, ok := h.(*probe)
	if !ok {
		return target.ErrUnknownHandle
	}
	i.mu.Lock()
	_, ok = i.probes[p.id]
	delete(i.probes, p.id)
	i.mu.Unlock()
	if !ok {
		return fmt.Errorf("probe %d: %w", p.id, target.ErrUnknownHandle)
	}
	if err := p.link.Close(); err != nil {
		return fmt.Errorf("close probe %d: %w", p.id, err)
	}
	return nil
}

// Dropped returns the number of records dropped because a thread's
// dispatch queue was full.
func (i *Interceptor) Dropped() uint64 {
	return i.dropped.Load()
}

func (i *Interceptor) readLoop() {
	defer close(i.done)
	for {
		raw, err := i.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			i.logger.Error().Err(err).Msg("Error reading ringbuf event")
			continue
		}
		rec, err := decodeRecord(raw.RawSample)
		if err != nil {
			i.logger.Warn().Err(err).Msg("Invalid uprobe record")
			continue
		}
		i.dispatch(rec)
	}
}

func (i *Interceptor) dispatch(rec record) {
	i.mu.Lock()
	_, ok := i.probes[rec.cookie]
	i.mu.Unlock()
	if !ok {
		return
	}
	if !i.queues.push(rec) {
		if i.dropped.Inc()%1000 == 1 {
			i.logger.Warn().Uint64("tid", rec.tid()).Uint64("dropped", i.dropped.Load()).Msg("Thread queue full, dropping hit")
		}
	}
}

func (i *Interceptor) deliver(rec record) {
	i.mu.Lock()
	p, ok := i.probes[rec.cookie]
	i.mu.Unlock()
	if !ok {
		return
	}
	p.handler(&callContext{rec: rec, addr: p.addr, entry: p.entry, regs: i.regs})
}

// Close detaches every probe, stops the reader and waits for in-flight
// handlers to return.
func (i *Interceptor) Close() error {
	var result *multierror.Error

	i.mu.Lock()
	for id, p := range i.probes {
		if err := p.link.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close probe %d: %w", id, err))
		}
		delete(i.probes, id)
	}
	i.mu.Unlock()

	if err := i.reader.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close reader: %w", err))
	}
	<-i.done

	i.queues.close()

	if err := i.prog.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close program: %w", err))
	}
	if err := i.events.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close map: %w", err))
	}
	return result.ErrorOrNil()
}
