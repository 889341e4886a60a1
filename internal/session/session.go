// Package session coordinates one traced process: it owns the resolver,
// the collection ring and its drain loop, and the breakpoint engine, and
// exposes the operations a controller drives them with.
//
// A session starts before its debug info is parsed. The resolver and the
// engine are built by the first operation that needs them, which waits for
// the parse under its own context.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/strobe/internal/breakpoint"
	"github.com/coral-mesh/strobe/internal/collection"
	"github.com/coral-mesh/strobe/internal/config"
	"github.com/coral-mesh/strobe/internal/drain"
	strobeerrors "github.com/coral-mesh/strobe/internal/errors"
	"github.com/coral-mesh/strobe/internal/event"
	"github.com/coral-mesh/strobe/internal/retry"
	"github.com/coral-mesh/strobe/internal/safe"
	"github.com/coral-mesh/strobe/internal/target"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
	"github.com/coral-mesh/strobe/pkg/resolver"
)

var (
	// ErrClosed is returned by operations on a stopped session.
	ErrClosed = errors.New("session closed")
	// ErrAddressOverflow is returned when the slide moves an address out of
	// the address space.
	ErrAddressOverflow = errors.New("address overflows with slide")
)

// Options carries the collaborators of a session.
type Options struct {
	// ID names the session in events. Empty means a random UUID.
	ID string

	// Interceptor installs entry interceptions. Required.
	Interceptor target.Interceptor

	// Memory reads (and, if it implements target.MemoryWriter, writes)
	// target memory. Required.
	Memory target.MemoryReader

	// Slide reports the image slide. Nil means an unslid image.
	Slide target.SlideProvider

	// Sink receives every event. Nil means a ChannelSink sized by
	// Drain.EventBuffer, readable through Events.
	Sink event.Sink

	// OnPause is called on the pausing thread after a breakpoint_hit event.
	OnPause func(breakpoint.PauseInfo)

	// Closers are closed, in order, when the session stops.
	Closers []io.Closer

	// Clock overrides time.Now for entry timestamps and pauses.
	Clock func() time.Time
}

// Session is the coordinator for one target image.
type Session struct {
	id     string
	cfg    *config.Config
	logger zerolog.Logger
	handle *debuginfo.Handle
	slide  int64

	icpt    target.Interceptor
	mem     target.MemoryReader
	sink    event.Sink
	events  *event.ChannelSink
	closers []io.Closer

	ring    *collection.Ring
	slots   *collection.SlotTable
	funcs   *collection.FunctionTable
	tramp   *collection.Trampoline
	watches *drain.WatchSet
	drainer *drain.Drainer

	engineOpts []breakpoint.Option

	bindMu sync.Mutex
	bound  *binding

	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	traced  map[uint32]target.Handle
	stopped bool
}

// binding is the part of a session built from the parsed index.
type binding struct {
	index        *debuginfo.Index
	res          *resolver.Resolver
	engine       *breakpoint.Engine
	nonSamplable []*debuginfo.Pattern
}

// New starts a session over the image behind handle without waiting for
// its parse. The drain loop runs until Stop.
func New(ctx context.Context, logger zerolog.Logger, cfg *config.Config, handle *debuginfo.Handle, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Interceptor == nil || opts.Memory == nil {
		return nil, errors.New("session needs an interceptor and a memory reader")
	}
	if handle == nil {
		return nil, errors.New("session needs a debug info handle")
	}
	slide, err := waitSlide(ctx, cfg.Target, opts.Slide)
	if err != nil {
		return nil, fmt.Errorf("failed to compute slide: %w", err)
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger = logger.With().Str("component", "session").Str("session_id", id).Logger()

	s := &Session{
		id:      id,
		cfg:     cfg,
		logger:  logger,
		handle:  handle,
		slide:   slide,
		icpt:    opts.Interceptor,
		mem:     opts.Memory,
		sink:    opts.Sink,
		closers: opts.Closers,
		slots:   collection.NewSlotTable(),
		funcs:   collection.NewFunctionTable(),
		watches: drain.NewWatchSet(debuginfo.SeparatorNative),
		traced:  make(map[uint32]target.Handle),
	}
	if s.sink == nil {
		s.events = event.NewChannelSink(logger, cfg.Drain.EventBuffer)
		s.sink = s.events
	}

	if s.ring, err = collection.NewRing(cfg.Collection.RingCapacity); err != nil {
		return nil, err
	}
	trampOpts := []collection.TrampolineOption{
		collection.WithSampler(collection.NewSampler(collection.SamplerConfig{
			HighWatermark: cfg.Collection.SampleWatermark,
			Interval:      cfg.Collection.SampleInterval,
		}, s.ring.Cap())),
	}
	if opts.Clock != nil {
		trampOpts = append(trampOpts, collection.WithClock(opts.Clock))
		s.engineOpts = append(s.engineOpts, breakpoint.WithClock(opts.Clock))
	}
	if opts.OnPause != nil {
		s.engineOpts = append(s.engineOpts, breakpoint.WithPauseNotify(opts.OnPause))
	}

	s.tramp = collection.NewTrampoline(s.ring, s.slots, s.funcs, s.mem, trampOpts...)
	s.drainer = drain.New(logger, drain.Config{
		Interval:  cfg.Drain.Interval,
		BatchSize: cfg.Drain.BatchSize,
		SessionID: id,
		Slide:     slide,
	}, s.ring, s.funcs, s.watches, s.mem, s.sink)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group, runCtx = errgroup.WithContext(runCtx)
	s.group.Go(func() error { return s.drainer.Run(runCtx) })

	logger.Info().Int64("slide", slide).Msg("Session started")
	return s, nil
}

// current returns the binding if one has been built.
func (s *Session) current() *binding {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	return s.bound
}

// bind returns the index-backed half of the session, building it on first
// use. It waits for the parse until ctx ends or index.timeout passes.
func (s *Session) bind(ctx context.Context) (*binding, error) {
	if b := s.current(); b != nil {
		return b, nil
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if s.cfg.Index.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Index.Timeout)
		defer cancel()
	}
	idx, err := s.handle.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load debug info: %w", err)
	}

	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	if s.bound != nil {
		return s.bound, nil
	}
	// Stop reads the binding after marking the session stopped.
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	b := &binding{
		index: idx,
		res:   resolver.New(s.logger, idx, resolver.WithNearestLines(s.cfg.Index.NearestLines)),
	}
	for _, pattern := range s.cfg.Collection.NonSamplable {
		p, err := debuginfo.CompilePattern(pattern, idx.Separator())
		if err != nil {
			return nil, fmt.Errorf("non-samplable pattern %q: %w", pattern, err)
		}
		b.nonSamplable = append(b.nonSamplable, p)
	}
	s.watches.SetSeparator(idx.Separator())
	b.engine = breakpoint.New(s.logger, breakpoint.Config{SessionID: s.id, Slide: s.slide},
		b.res, s.icpt, s.mem, s.sink, s.engineOpts...)
	s.bound = b

	s.logger.Info().
		Str("binary", idx.Path()).
		Str("arch", idx.Arch()).
		Int("functions", idx.FunctionCount()).
		Msg("Debug info bound")
	return b, nil
}

// waitSlide reads the slide, retrying while the image is not mapped yet.
func waitSlide(ctx context.Context, cfg config.TargetConfig, p target.SlideProvider) (int64, error) {
	if p == nil {
		return 0, nil
	}
	var slide int64
	err := retry.Do(ctx, retry.Config{
		MaxRetries:     max(cfg.MapRetries, 1),
		InitialBackoff: cfg.MapBackoff,
		MaxBackoff:     time.Second,
	}, func() error {
		var err error
		slide, err = p.Slide()
		return err
	}, func(err error) bool {
		return errors.Is(err, target.ErrNoMapping)
	})
	return slide, err
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Index waits for the debug-info index of the target image.
func (s *Session) Index(ctx context.Context) (*debuginfo.Index, error) {
	b, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	return b.index, nil
}

// Slide returns the image slide the session was started with.
func (s *Session) Slide() int64 { return s.slide }

// Events returns the session's event channel, or nil when a Sink was
// supplied in Options.
func (s *Session) Events() <-chan event.Event {
	if s.events == nil {
		return nil
	}
	return s.events.Events()
}

// Runtime converts a file address to a runtime address.
func (s *Session) Runtime(fileAddr uint64) (uint64, error) {
	addr, wrapped := safe.Offset(fileAddr, s.slide)
	if wrapped {
		return 0, fmt.Errorf("0x%x: %w", fileAddr, ErrAddressOverflow)
	}
	return addr, nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrClosed
	}
	return nil
}

// ResolveTargets returns the functions a pattern selects.
func (s *Session) ResolveTargets(ctx context.Context, pattern string) ([]debuginfo.FunctionInfo, error) {
	b, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	return b.res.ResolveTargets(pattern)
}

// ResolveExpression compiles a value expression into a read recipe.
func (s *Session) ResolveExpression(ctx context.Context, expr string) (resolver.Recipe, error) {
	b, err := s.bind(ctx)
	if err != nil {
		return resolver.Recipe{}, err
	}
	return b.res.ResolveExpression(expr)
}

// ResolveReadTarget resolves expr and expands struct pointees to the
// configured depth.
func (s *Session) ResolveReadTarget(ctx context.Context, expr string) (resolver.ReadTarget, error) {
	b, err := s.bind(ctx)
	if err != nil {
		return resolver.ReadTarget{}, err
	}
	return b.res.ResolveReadTarget(expr, s.cfg.Index.StructDepth)
}

// LineLocation is a resolved file:line.
type LineLocation struct {
	File        string `json:"file"`
	Line        uint32 `json:"line"`
	FileAddress uint64 `json:"file_address"`
	Address     uint64 `json:"address"`
}

// ResolveLine maps file:line to its first statement. It fails with a
// *debuginfo.NoCodeAtLineError listing nearby lines when there is no code.
func (s *Session) ResolveLine(ctx context.Context, file string, line uint32) (LineLocation, error) {
	b, err := s.bind(ctx)
	if err != nil {
		return LineLocation{}, err
	}
	addr, actual, ok := b.res.ResolveLine(file, line)
	if !ok {
		return LineLocation{}, b.index.NoCodeError(file, line, s.cfg.Index.NearestLines)
	}
	rt, err := s.Runtime(addr)
	if err != nil {
		return LineLocation{}, err
	}
	return LineLocation{File: file, Line: actual, FileAddress: addr, Address: rt}, nil
}

// Stats is a snapshot of the collection counters.
type Stats struct {
	Ring          collection.Stats `json:"ring"`
	Sampled       uint64           `json:"sampled"`
	Drained       uint64           `json:"drained"`
	Traced        int              `json:"traced"`
	EventsDropped uint64           `json:"events_dropped"`
}

// Stats reports the ring, sampler and drain counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Ring:    s.ring.Stats(),
		Sampled: s.tramp.Sampler().Skipped(),
		Drained: s.drainer.Drained(),
	}
	s.mu.Lock()
	st.Traced = len(s.traced)
	s.mu.Unlock()
	if s.events != nil {
		st.EventsDropped = s.events.Dropped()
	}
	return st
}

// Stop resumes every paused thread, removes every interception, drains
// what is left in the ring and releases the session's resources. It is
// idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	traced := s.traced
	s.traced = make(map[uint32]target.Handle)
	s.mu.Unlock()

	var result *multierror.Error
	if b := s.current(); b != nil {
		if err := b.engine.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for id, h := range traced {
		if err := s.icpt.Detach(h); err != nil {
			result = multierror.Append(result, fmt.Errorf("untrace %s: %w", s.funcs.Name(id), err))
		}
	}

	s.cancel()
	if err := s.group.Wait(); err != nil {
		result = multierror.Append(result, fmt.Errorf("drain loop: %w", err))
	}
	if s.events != nil {
		s.closers = append(s.closers, s.events)
	}
	if err := strobeerrors.CloseAll(s.closers...); err != nil {
		result = multierror.Append(result, err)
	}

	stats := s.ring.Stats()
	s.logger.Info().
		Uint64("stored", stats.Stored).
		Uint64("overflow", stats.Overflow).
		Int("untraced", len(traced)).
		Msg("Session stopped")
	return result.ErrorOrNil()
}
