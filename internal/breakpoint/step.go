package breakpoint

import (
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/coral-mesh/strobe/internal/event"
	"github.com/coral-mesh/strobe/internal/target"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// stepGroup is the set of one-shot breakpoints armed for one step of one
// thread. The first member to fire on that thread wins.
type stepGroup struct {
	thread  uint64
	origin  ID
	mode    StepMode
	fired   atomic.Bool
	handles []target.Handle

	// Where the stepping frame returns to. A landing elsewhere in the same
	// function inherits it, since only an entry stop can read it off the stack.
	fnLow uint64
	inFn  bool
	ret   uint64
}

// frameReturn returns the return address a landing at file address pc should
// report when the thread is still inside the function it stepped from.
func (g *stepGroup) frameReturn(fn debuginfo.FunctionInfo, pc uint64) (uint64, bool) {
	if g == nil || !g.inFn || g.ret == 0 {
		return 0, false
	}
	if fn.LowPC != g.fnLow || pc == fn.LowPC {
		return 0, false
	}
	return g.ret, true
}

// stepTargets returns the runtime addresses a step from info may stop at.
func (e *Engine) stepTargets(info PauseInfo, mode StepMode) []uint64 {
	idx := e.res.Index()
	pc := e.fileAddr(info.Address)

	var targets []uint64
	if mode == StepOver || mode == StepInto {
		if next, ok := idx.NextStatementInFunction(pc, 1); ok {
			targets = append(targets, e.runtime(next.Address))
		}
	}
	if mode == StepInto {
		callees, err := idx.CalleeEntries(pc)
		if err != nil {
			e.logger.Debug().Err(err).Uint64("pc", pc).Msg("Callee decoding failed")
		}
		for _, c := range callees {
			targets = append(targets, e.runtime(c))
		}
	}
	if info.ReturnAddress != 0 {
		targets = append(targets, info.ReturnAddress)
	}
	return lo.Uniq(targets)
}

func (e *Engine) armStepLocked(info PauseInfo, mode StepMode) (*stepGroup, error) {
	targets := e.stepTargets(info, mode)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%s from 0x%x: %w", mode, info.Address, ErrNoStepTarget)
	}

	g := &stepGroup{thread: info.ThreadID, origin: info.BreakpointID, mode: mode, ret: info.ReturnAddress}
	if fn, ok := e.res.Index().FunctionContaining(e.fileAddr(info.Address)); ok {
		g.fnLow, g.inFn = fn.LowPC, true
	}
	handler := func(cc target.CallContext) { e.onStepHit(g, cc) }
	for _, addr := range targets {
		h, err := e.icpt.Attach(addr, handler)
		if err != nil {
			e.detachAll(g.handles)
			return nil, fmt.Errorf("%s: attach 0x%x: %w", mode, addr, err)
		}
		g.handles = append(g.handles, h)
	}
	e.logger.Debug().
		Uint64("thread_id", info.ThreadID).
		Str("mode", mode.String()).
		Int("targets", len(targets)).
		Msg("Step armed")
	return g, nil
}

func (e *Engine) onStepHit(g *stepGroup, cc target.CallContext) {
	if cc.ThreadID() != g.thread {
		return
	}
	if !g.fired.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	if e.steps[g.thread] == g {
		delete(e.steps, g.thread)
	}
	handles := g.handles
	e.mu.Unlock()

	e.detachAll(handles)
	e.pause(g.origin, g, cc, event.ReasonStep)
}

// cancelStep disarms a group that has not fired.
func (e *Engine) cancelStep(g *stepGroup) {
	if g.fired.CompareAndSwap(false, true) {
		e.detachAll(g.handles)
	}
}

func (e *Engine) detachAll(handles []target.Handle) {
	for _, h := range handles {
		if err := e.icpt.Detach(h); err != nil {
			e.logger.Warn().Err(err).Uint64("address", h.Address()).Msg("Failed to detach step target")
		}
	}
}
