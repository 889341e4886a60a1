package breakpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/coral-mesh/strobe/internal/breakpoint/expr"
	"github.com/coral-mesh/strobe/internal/event"
	"github.com/coral-mesh/strobe/internal/target"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
	"github.com/coral-mesh/strobe/pkg/resolver"
)

var (
	// ErrNotPaused is returned by Continue for a thread that is not paused.
	ErrNotPaused = errors.New("thread is not paused")
	// ErrStopped is returned once the engine has been stopped.
	ErrStopped = errors.New("breakpoint engine stopped")
	// ErrNoStepTarget is returned when a step has nowhere to stop.
	ErrNoStepTarget = errors.New("no step target")
	// ErrReadOnly is returned by WriteVariable without a memory writer.
	ErrReadOnly = errors.New("target memory is read-only")
)

// Config holds the per-session settings of an Engine.
type Config struct {
	SessionID string
	// Slide is added to file addresses to get runtime addresses.
	Slide int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithPauseNotify registers fn to be called, on the pausing thread, each
// time a thread pauses. fn must not call back into the engine for that
// thread's resume synchronously.
func WithPauseNotify(fn func(PauseInfo)) Option {
	return func(e *Engine) { e.notify = fn }
}

// WithClock overrides time.Now for pause timestamps and events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type point struct {
	id        ID
	kind      Kind
	target    resolver.Target
	loc       resolver.Location
	addr      uint64
	condSrc   string
	cond      *expr.Program
	tmpl      *expr.Template
	threshold uint64
	params    []debuginfo.Local

	hits         atomic.Uint64
	condReported atomic.Bool
	removed      atomic.Bool
	handle       target.Handle
}

type pausedThread struct {
	info   PauseInfo
	resume chan struct{}
}

// Engine owns the breakpoint table and the paused-thread table. Hit
// handlers run on target threads; everything else runs on the controller.
type Engine struct {
	logger zerolog.Logger
	cfg    Config
	res    *resolver.Resolver
	icpt   target.Interceptor
	mem    target.MemoryReader
	sink   event.Sink
	notify func(PauseInfo)
	now    func() time.Time

	mu      sync.Mutex
	points  table
	paused  map[uint64]*pausedThread
	steps   map[uint64]*stepGroup
	stopped bool
}

// New creates an engine. mem is used for condition and template reads; if
// it also implements target.MemoryWriter, WriteVariable is enabled.
func New(logger zerolog.Logger, cfg Config, res *resolver.Resolver, icpt target.Interceptor, mem target.MemoryReader, sink event.Sink, opts ...Option) *Engine {
	if sink == nil {
		sink = event.Discard
	}
	e := &Engine{
		logger: logger.With().Str("component", "breakpoint").Logger(),
		cfg:    cfg,
		res:    res,
		icpt:   icpt,
		mem:    mem,
		sink:   sink,
		now:    time.Now,
		paused: make(map[uint64]*pausedThread),
		steps:  make(map[uint64]*stepGroup),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) runtime(fileAddr uint64) uint64 {
	return uint64(int64(fileAddr) + e.cfg.Slide)
}

func (e *Engine) fileAddr(runtimeAddr uint64) uint64 {
	return uint64(int64(runtimeAddr) - e.cfg.Slide)
}

// Install resolves spec and arms a breakpoint.
func (e *Engine) Install(spec Spec) (Breakpoint, error) {
	p, err := e.prepare(KindBreakpoint, spec.Target, spec.Condition)
	if err != nil {
		return Breakpoint{}, err
	}
	p.threshold = max(spec.HitCount, 1)
	return e.arm(p)
}

// InstallLogpoint resolves spec and arms a logpoint.
func (e *Engine) InstallLogpoint(spec LogpointSpec) (Breakpoint, error) {
	p, err := e.prepare(KindLogpoint, spec.Target, spec.Condition)
	if err != nil {
		return Breakpoint{}, err
	}
	tmpl, err := expr.CompileTemplate(spec.Message)
	if err != nil {
		return Breakpoint{}, fmt.Errorf("logpoint message: %w", err)
	}
	p.tmpl = tmpl
	p.threshold = 1
	return e.arm(p)
}

func (e *Engine) prepare(kind Kind, t resolver.Target, cond string) (*point, error) {
	loc, err := e.res.ResolveBreakpoint(t)
	if err != nil {
		return nil, err
	}
	p := &point{
		kind:    kind,
		target:  t,
		loc:     loc,
		addr:    e.runtime(loc.Address),
		condSrc: cond,
	}
	if cond != "" {
		if p.cond, err = expr.Compile(cond); err != nil {
			return nil, fmt.Errorf("condition: %w", err)
		}
	}
	if loc.Function.Name != "" {
		params, err := e.res.Index().Parameters(loc.Function)
		if err != nil {
			e.logger.Debug().Err(err).Str("function", loc.Function.Name).Msg("Parameters unavailable")
		}
		p.params = params
	}
	return p, nil
}

func (e *Engine) arm(p *point) (Breakpoint, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return Breakpoint{}, ErrStopped
	}
	p.id = e.points.insert(p)
	e.mu.Unlock()

	h, err := e.icpt.Attach(p.addr, func(cc target.CallContext) { e.onHit(p, cc) })
	if err != nil {
		e.mu.Lock()
		e.points.remove(p.id)
		e.mu.Unlock()
		return Breakpoint{}, fmt.Errorf("attach %s at 0x%x: %w", p.target, p.addr, err)
	}

	e.mu.Lock()
	p.handle = h
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		_ = e.icpt.Detach(h)
		return Breakpoint{}, ErrStopped
	}

	e.logger.Info().
		Str("id", p.id.String()).
		Str("kind", p.kind.String()).
		Str("target", p.target.String()).
		Uint64("address", p.addr).
		Msg("Breakpoint armed")
	return e.view(p), nil
}

func (e *Engine) onHit(p *point, cc target.CallContext) {
	if p.removed.Load() {
		return
	}
	env := &callEnv{e: e, p: p, cc: cc, hits: p.hits.Load()}
	if p.cond != nil {
		ok, err := p.cond.EvalBool(env)
		if err != nil {
			if p.condReported.CompareAndSwap(false, true) {
				e.logger.Warn().Err(err).Str("id", p.id.String()).Msg("Condition failed to evaluate")
				e.sink.Emit(e.pointEvent(event.KindConditionError, p, cc, err.Error()))
			}
			return
		}
		if !ok {
			return
		}
	}

	env.hits = p.hits.Inc()
	if env.hits < p.threshold {
		return
	}

	if p.kind == KindLogpoint {
		msg, err := p.tmpl.Render(env)
		if err != nil {
			e.logger.Debug().Err(err).Str("id", p.id.String()).Msg("Logpoint placeholder failed")
		}
		e.sink.Emit(e.pointEvent(event.KindLogpointMessage, p, cc, msg))
		return
	}
	e.pause(p.id, nil, cc, event.ReasonBreakpoint)
}

func (e *Engine) pointEvent(kind event.Kind, p *point, cc target.CallContext, msg string) event.Event {
	return event.Event{
		Kind:         kind,
		Timestamp:    e.now(),
		SessionID:    e.cfg.SessionID,
		ThreadID:     cc.ThreadID(),
		Function:     p.loc.Function.Name,
		BreakpointID: p.id.String(),
		File:         p.loc.File,
		Line:         p.loc.Line,
		Address:      cc.Address(),
		Message:      msg,
	}
}

// pause blocks the calling thread until Continue or Stop releases it.
// from is the step group that fired, if any.
func (e *Engine) pause(id ID, from *stepGroup, cc target.CallContext, reason event.PauseReason) {
	tid := cc.ThreadID()
	info := PauseInfo{
		ThreadID:     tid,
		BreakpointID: id,
		Reason:       reason,
		Address:      cc.Address(),
		PausedAt:     e.now(),
	}
	if ret, err := cc.ReturnAddress(); err == nil {
		info.ReturnAddress = ret
	}
	idx := e.res.Index()
	pc := e.fileAddr(info.Address)
	if fn, ok := idx.FunctionContaining(pc); ok {
		info.Function = fn.Name
		if ret, ok := from.frameReturn(fn, pc); ok {
			info.ReturnAddress = ret
		}
	}
	if le, ok := idx.ResolveAddress(pc); ok {
		info.File, info.Line = le.File, le.Line
	}

	pt := &pausedThread{info: info, resume: make(chan struct{}, 1)}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	if from == nil {
		if p, ok := e.points.get(id); !ok || p.removed.Load() {
			e.mu.Unlock()
			return
		}
	}
	if _, busy := e.paused[tid]; busy {
		e.mu.Unlock()
		e.logger.Warn().Uint64("thread_id", tid).Msg("Thread already paused, ignoring hit")
		return
	}
	e.paused[tid] = pt
	stale := e.steps[tid]
	if stale != nil && stale != from {
		delete(e.steps, tid)
	} else {
		stale = nil
	}
	e.mu.Unlock()

	if stale != nil {
		e.cancelStep(stale)
	}

	e.logger.Info().
		Uint64("thread_id", tid).
		Str("id", id.String()).
		Str("reason", string(reason)).
		Str("function", info.Function).
		Msg("Thread paused")
	e.sink.Emit(event.Event{
		Kind:          event.KindBreakpointHit,
		Timestamp:     info.PausedAt,
		SessionID:     e.cfg.SessionID,
		ThreadID:      tid,
		Function:      info.Function,
		BreakpointID:  id.String(),
		Reason:        reason,
		File:          info.File,
		Line:          info.Line,
		Address:       info.Address,
		ReturnAddress: info.ReturnAddress,
	})
	if e.notify != nil {
		e.notify(info)
	}

	<-pt.resume
}

// Continue resumes a paused thread. For the step modes the one-shot
// breakpoints are armed before the thread is released.
func (e *Engine) Continue(tid uint64, mode StepMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	pt, ok := e.paused[tid]
	if !ok {
		return fmt.Errorf("thread %d: %w", tid, ErrNotPaused)
	}

	if mode != Resume {
		g, err := e.armStepLocked(pt.info, mode)
		if err != nil {
			return err
		}
		e.steps[tid] = g
	}

	delete(e.paused, tid)
	pt.resume <- struct{}{}
	e.logger.Debug().Uint64("thread_id", tid).Str("mode", mode.String()).Msg("Thread resumed")
	return nil
}

// Remove detaches a breakpoint. Threads paused on it are resumed first.
func (e *Engine) Remove(id ID) error {
	e.mu.Lock()
	p, ok := e.points.remove(id)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrUnknownBreakpoint)
	}
	p.removed.Store(true)
	var released []*pausedThread
	for tid, pt := range e.paused {
		if pt.info.BreakpointID == id && pt.info.Reason == event.ReasonBreakpoint {
			delete(e.paused, tid)
			released = append(released, pt)
		}
	}
	h := p.handle
	e.mu.Unlock()

	for _, pt := range released {
		pt.resume <- struct{}{}
	}
	if h != nil {
		if err := e.icpt.Detach(h); err != nil {
			return fmt.Errorf("detach %s: %w", id, err)
		}
	}
	e.logger.Info().Str("id", id.String()).Int("resumed", len(released)).Msg("Breakpoint removed")
	return nil
}

// Stop resumes every paused thread and detaches every breakpoint and step
// target. It is idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true

	var handles []target.Handle
	for _, p := range e.points.all() {
		p.removed.Store(true)
		if _, ok := e.points.remove(p.id); ok && p.handle != nil {
			handles = append(handles, p.handle)
		}
	}
	for tid, g := range e.steps {
		delete(e.steps, tid)
		if g.fired.CompareAndSwap(false, true) {
			handles = append(handles, g.handles...)
		}
	}
	released := make([]*pausedThread, 0, len(e.paused))
	for tid, pt := range e.paused {
		delete(e.paused, tid)
		released = append(released, pt)
	}
	e.mu.Unlock()

	for _, pt := range released {
		pt.resume <- struct{}{}
	}

	var result *multierror.Error
	for _, h := range handles {
		if err := e.icpt.Detach(h); err != nil {
			result = multierror.Append(result, fmt.Errorf("detach 0x%x: %w", h.Address(), err))
		}
	}
	e.logger.Info().Int("resumed", len(released)).Int("detached", len(handles)).Msg("Breakpoint engine stopped")
	return result.ErrorOrNil()
}

// List returns every live breakpoint and logpoint in id slot order.
func (e *Engine) List() []Breakpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	points := e.points.all()
	out := make([]Breakpoint, 0, len(points))
	for _, p := range points {
		out = append(out, e.viewLocked(p))
	}
	return out
}

// Get returns one breakpoint by id.
func (e *Engine) Get(id ID) (Breakpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.points.get(id)
	if !ok {
		return Breakpoint{}, fmt.Errorf("%s: %w", id, ErrUnknownBreakpoint)
	}
	return e.viewLocked(p), nil
}

// Paused returns the paused threads ordered by thread id.
func (e *Engine) Paused() []PauseInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PauseInfo, 0, len(e.paused))
	for _, pt := range e.paused {
		out = append(out, pt.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out
}

func (e *Engine) view(p *point) Breakpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked(p)
}

func (e *Engine) viewLocked(p *point) Breakpoint {
	b := Breakpoint{
		ID:        p.id,
		Kind:      p.kind,
		State:     StateArmed,
		Target:    p.target,
		Address:   p.addr,
		Function:  p.loc.Function.Name,
		File:      p.loc.File,
		Line:      p.loc.Line,
		Condition: p.condSrc,
		HitCount:  p.threshold,
		Hits:      p.hits.Load(),
	}
	if p.tmpl != nil {
		b.Message = p.tmpl.Source()
	}
	if p.removed.Load() {
		b.State = StateRemoved
	}
	for _, pt := range e.paused {
		if pt.info.BreakpointID == p.id && pt.info.Reason == event.ReasonBreakpoint {
			b.State = StatePaused
			break
		}
	}
	return b
}

// WriteVariable stores raw, truncated to the value's width, into the
// global that expression names.
func (e *Engine) WriteVariable(expression string, raw uint64) error {
	w, ok := e.mem.(target.MemoryWriter)
	if !ok {
		return ErrReadOnly
	}
	rec, err := e.res.ResolveExpression(expression)
	if err != nil {
		return err
	}
	addr, err := rec.Address(e.mem, e.cfg.Slide)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, raw)
	if err := w.WriteMemory(addr, buf[:rec.FinalSize]); err != nil {
		return fmt.Errorf("write %s at 0x%x: %w", rec.Label, addr, err)
	}
	e.logger.Info().Str("variable", rec.Label).Uint64("address", addr).Msg("Variable written")
	return nil
}
