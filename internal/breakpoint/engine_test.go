package breakpoint

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/strobe/internal/breakpoint/expr"
	"github.com/coral-mesh/strobe/internal/event"
	"github.com/coral-mesh/strobe/internal/target/memtarget"
	"github.com/coral-mesh/strobe/internal/testutil"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
	"github.com/coral-mesh/strobe/pkg/debuginfo/debuginfotest"
	"github.com/coral-mesh/strobe/pkg/resolver"
)

const slide = 0x10000

// Runtime addresses of fixture code.
const (
	processBufferRT = debuginfotest.ProcessBuffer + slide
	mixRT           = debuginfotest.Mix + slide
	line13RT        = 0x1030 + slide
	line15RT        = 0x1040 + slide
	line16RT        = 0x10f0 + slide
	callerRetRT     = 0x3010 + slide
)

type harness struct {
	eng    *Engine
	ic     *memtarget.Interceptor
	mem    *memtarget.Memory
	rec    *event.Recorder
	pauses chan PauseInfo
}

func newHarness(t *testing.T, tables debuginfo.Tables) *harness {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	h := &harness{
		ic:     memtarget.NewInterceptor(),
		mem:    memtarget.NewMemory(),
		rec:    &event.Recorder{},
		pauses: make(chan PauseInfo, 16),
	}
	res := resolver.New(logger, debuginfo.NewIndex(logger, tables))
	h.eng = New(logger, Config{SessionID: "s1", Slide: slide}, res, h.ic, h.mem, h.rec,
		WithPauseNotify(func(p PauseInfo) { h.pauses <- p }))
	t.Cleanup(func() { _ = h.eng.Stop() })
	return h
}

// call runs c on a new goroutine standing in for the target thread.
func (h *harness) call(c *memtarget.Call) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ic.Call(c)
	}()
	return done
}

func (h *harness) waitPause(t *testing.T) PauseInfo {
	t.Helper()
	select {
	case p := <-h.pauses:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a pause")
		return PauseInfo{}
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("thread was not resumed")
	}
}

func assertBlocked(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
		t.Fatal("thread should still be paused")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestInstall(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())

	bp, err := h.eng.Install(Spec{Target: resolver.Target{Function: "audio::process_buffer"}})
	require.NoError(t, err)
	assert.Equal(t, KindBreakpoint, bp.Kind)
	assert.Equal(t, StateArmed, bp.State)
	assert.Equal(t, uint64(processBufferRT), bp.Address)
	assert.Equal(t, uint32(10), bp.Line)
	assert.Equal(t, uint64(1), bp.HitCount)
	assert.Equal(t, 1, h.ic.Count(processBufferRT))

	lp, err := h.eng.InstallLogpoint(LogpointSpec{
		Target:  resolver.Target{File: "engine.cpp", Line: 12},
		Message: "at line {threadId}",
	})
	require.NoError(t, err)
	assert.Equal(t, KindLogpoint, lp.Kind)
	assert.Equal(t, uint64(line13RT), lp.Address)
	assert.Equal(t, uint32(13), lp.Line)

	list := h.eng.List()
	require.Len(t, list, 2)
	assert.Equal(t, bp.ID, list[0].ID)
	assert.Equal(t, lp.ID, list[1].ID)

	got, err := h.eng.Get(lp.ID)
	require.NoError(t, err)
	assert.Equal(t, "at line {threadId}", got.Message)
}

func TestInstallErrors(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	h.ic.FailAttach(mixRT, errors.New("probe refused"))

	tests := []struct {
		name string
		spec Spec
		is   error
	}{
		{"no target", Spec{}, resolver.ErrInvalidTarget},
		{"both forms", Spec{Target: resolver.Target{Function: "main", File: "main.cpp", Line: 98}}, resolver.ErrInvalidTarget},
		{"unknown function", Spec{Target: resolver.Target{Function: "nope"}}, debuginfo.ErrNotFound},
		{"blank line", Spec{Target: resolver.Target{File: "main.cpp", Line: 100}}, debuginfo.ErrNoCodeAtLine},
		{"bad condition", Spec{Target: resolver.Target{Function: "main"}, Condition: "a >"}, expr.ErrSyntax},
		{"attach failure", Spec{Target: resolver.Target{Function: "audio::mix"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.eng.Install(tt.spec)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	_, err := h.eng.InstallLogpoint(LogpointSpec{Target: resolver.Target{Function: "main"}, Message: "{"})
	assert.ErrorIs(t, err, expr.ErrSyntax)

	assert.Empty(t, h.eng.List())
	assert.Empty(t, h.ic.Attached())
}

func TestNoCodeAtLineHint(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	_, err := h.eng.Install(Spec{Target: resolver.Target{File: "main.cpp", Line: 100}})
	var nc *debuginfo.NoCodeAtLineError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, []uint32{98, 102, 105}, nc.Nearest)
}

func TestPauseBlocksOnlyFiringThread(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	bp, err := h.eng.Install(Spec{Target: resolver.Target{Function: "audio::process_buffer"}})
	require.NoError(t, err)

	doneA := h.call(&memtarget.Call{TID: 1, PC: processBufferRT, Return: callerRetRT})
	doneB := h.call(&memtarget.Call{TID: 2, PC: processBufferRT, Return: callerRetRT})
	h.waitPause(t)
	h.waitPause(t)

	paused := h.eng.Paused()
	require.Len(t, paused, 2)
	assert.Equal(t, uint64(1), paused[0].ThreadID)
	assert.Equal(t, uint64(2), paused[1].ThreadID)
	before := paused[1]
	assert.Equal(t, bp.ID, before.BreakpointID)
	assert.Equal(t, "audio::process_buffer(audio::AudioBuffer*)", before.Function)
	assert.Equal(t, uint32(10), before.Line)
	assert.Equal(t, uint64(callerRetRT), before.ReturnAddress)
	assert.Equal(t, event.ReasonBreakpoint, before.Reason)

	got, err := h.eng.Get(bp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, got.State)

	require.NoError(t, h.eng.Continue(1, Resume))
	waitDone(t, doneA)
	assertBlocked(t, doneB)

	paused = h.eng.Paused()
	require.Len(t, paused, 1)
	assert.Equal(t, before, paused[0])

	require.NoError(t, h.eng.Continue(2, Resume))
	waitDone(t, doneB)
	assert.Empty(t, h.eng.Paused())
	assert.Len(t, h.rec.OfKind(event.KindBreakpointHit), 2)

	assert.ErrorIs(t, h.eng.Continue(2, Resume), ErrNotPaused)
}

func TestHitCountThreshold(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	bp, err := h.eng.Install(Spec{Target: resolver.Target{Function: "audio::mix"}, HitCount: 3})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		waitDone(t, h.call(&memtarget.Call{TID: 7, PC: mixRT}))
	}
	assert.Empty(t, h.eng.Paused())

	done := h.call(&memtarget.Call{TID: 7, PC: mixRT})
	p := h.waitPause(t)
	assert.Equal(t, bp.ID, p.BreakpointID)
	require.NoError(t, h.eng.Continue(7, Resume))
	waitDone(t, done)

	// Past the threshold every hit pauses.
	done = h.call(&memtarget.Call{TID: 7, PC: mixRT})
	h.waitPause(t)
	require.NoError(t, h.eng.Continue(7, Resume))
	waitDone(t, done)

	got, err := h.eng.Get(bp.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Hits)
}

func TestConditionFiltersHits(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	bp, err := h.eng.Install(Spec{
		Target:    resolver.Target{Function: "audio::process_buffer"},
		Condition: "frames > 100 && threadId == 3",
	})
	require.NoError(t, err)

	waitDone(t, h.call(&memtarget.Call{TID: 3, PC: processBufferRT, Regs: map[uint64]uint64{4: 50}}))
	waitDone(t, h.call(&memtarget.Call{TID: 4, PC: processBufferRT, Regs: map[uint64]uint64{4: 500}}))
	got, err := h.eng.Get(bp.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Hits, "false conditions are not hits")

	done := h.call(&memtarget.Call{TID: 3, PC: processBufferRT, Regs: map[uint64]uint64{4: 500}})
	h.waitPause(t)
	require.NoError(t, h.eng.Continue(3, Resume))
	waitDone(t, done)
}

func TestConditionErrorReportedOnce(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	bp, err := h.eng.Install(Spec{
		Target:    resolver.Target{Function: "audio::mix"},
		Condition: "missing > 1",
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		waitDone(t, h.call(&memtarget.Call{TID: 1, PC: mixRT}))
	}

	errs := h.rec.OfKind(event.KindConditionError)
	require.Len(t, errs, 1)
	assert.Equal(t, bp.ID.String(), errs[0].BreakpointID)
	assert.Contains(t, errs[0].Message, "unknown identifier")
	assert.Empty(t, h.rec.OfKind(event.KindBreakpointHit))

	got, err := h.eng.Get(bp.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Hits)
}

func TestLogpoint(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	h.mem.PutInt32(0x9000, -7)
	h.mem.PutFloat64(0x9008, 2.5)
	h.mem.PutInt32(debuginfotest.CounterAddr+slide, 42)

	_, err := h.eng.InstallLogpoint(LogpointSpec{
		Target:  resolver.Target{Function: "audio::process_buffer"},
		Message: "frames={frames} x={buf->x} v={buf->value} n={gCounter} hit {hitCount} {{ok}}",
	})
	require.NoError(t, err)

	regs := map[uint64]uint64{4: 64, 5: 0x9000}
	waitDone(t, h.call(&memtarget.Call{TID: 5, PC: processBufferRT, Regs: regs}))
	waitDone(t, h.call(&memtarget.Call{TID: 5, PC: processBufferRT, Regs: map[uint64]uint64{4: 1, 5: 0}}))

	msgs := h.rec.OfKind(event.KindLogpointMessage)
	require.Len(t, msgs, 2)
	assert.Equal(t, "frames=64 x=-7 v=2.5 n=42 hit 1 {ok}", msgs[0].Message)
	assert.Equal(t, uint64(5), msgs[0].ThreadID)
	assert.Equal(t, "s1", msgs[0].SessionID)
	assert.Contains(t, msgs[1].Message, "x=<error: ")
	assert.Contains(t, msgs[1].Message, "hit 2")
	assert.Empty(t, h.eng.Paused(), "logpoints never block")
}

func TestStepOver(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	bp, err := h.eng.Install(Spec{Target: resolver.Target{File: "engine.cpp", Line: 12}})
	require.NoError(t, err)

	done := h.call(&memtarget.Call{TID: 1, PC: line13RT, Return: callerRetRT})
	h.waitPause(t)
	require.NoError(t, h.eng.Continue(1, StepOver))
	waitDone(t, done)
	assert.Equal(t, 1, h.ic.Count(line15RT))
	assert.Equal(t, 1, h.ic.Count(callerRetRT))

	// Other threads pass through step targets.
	waitDone(t, h.call(&memtarget.Call{TID: 9, PC: line15RT}))
	assert.Empty(t, h.eng.Paused())

	done = h.call(&memtarget.Call{TID: 1, PC: line15RT, Return: callerRetRT})
	p := h.waitPause(t)
	assert.Equal(t, event.ReasonStep, p.Reason)
	assert.Equal(t, bp.ID, p.BreakpointID)
	assert.Equal(t, uint32(15), p.Line)
	assert.Zero(t, h.ic.Count(line15RT), "fired one-shot is detached")
	assert.Zero(t, h.ic.Count(callerRetRT), "sibling one-shot is detached")

	require.NoError(t, h.eng.Continue(1, Resume))
	waitDone(t, done)
}

func TestChainedStepKeepsReturnAddress(t *testing.T) {
	tests := []struct {
		name      string
		midReturn uint64
	}{
		{"unreadable mid-function", 0},
		{"stale stack slot mid-function", 0xdead0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, debuginfotest.Tables())
			_, err := h.eng.Install(Spec{Target: resolver.Target{File: "engine.cpp", Line: 12}})
			require.NoError(t, err)

			done := h.call(&memtarget.Call{TID: 1, PC: line13RT, Return: callerRetRT})
			h.waitPause(t)
			require.NoError(t, h.eng.Continue(1, StepOver))
			waitDone(t, done)

			done = h.call(&memtarget.Call{TID: 1, PC: line15RT, Return: tt.midReturn})
			p := h.waitPause(t)
			assert.Equal(t, uint32(15), p.Line)
			assert.Equal(t, uint64(callerRetRT), p.ReturnAddress)

			require.NoError(t, h.eng.Continue(1, StepOut))
			waitDone(t, done)
			assert.Equal(t, []uint64{line13RT, callerRetRT}, h.ic.Attached())

			done = h.call(&memtarget.Call{TID: 1, PC: callerRetRT})
			p = h.waitPause(t)
			assert.Equal(t, "main", p.Function)
			require.NoError(t, h.eng.Continue(1, Resume))
			waitDone(t, done)
		})
	}
}

func TestStepOverAtLastLineReturnsToCaller(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	_, err := h.eng.Install(Spec{Target: resolver.Target{File: "engine.cpp", Line: 16}})
	require.NoError(t, err)

	done := h.call(&memtarget.Call{TID: 1, PC: line16RT, Return: callerRetRT})
	h.waitPause(t)
	require.NoError(t, h.eng.Continue(1, StepOver))
	waitDone(t, done)
	assert.Equal(t, []uint64{line16RT, callerRetRT}, h.ic.Attached())

	done = h.call(&memtarget.Call{TID: 1, PC: callerRetRT})
	p := h.waitPause(t)
	assert.Equal(t, "main", p.Function)
	assert.Equal(t, uint32(102), p.Line)
	require.NoError(t, h.eng.Continue(1, Resume))
	waitDone(t, done)
}

func TestStepInto(t *testing.T) {
	tables := debuginfotest.Tables()
	tables.Code = debuginfotest.StaticCode{
		Base: debuginfotest.ProcessBuffer,
		Data: []byte{0xe8, 0xfb, 0x00, 0x00, 0x00, 0x90}, // call 0x1100
	}
	h := newHarness(t, tables)
	_, err := h.eng.Install(Spec{Target: resolver.Target{Function: "audio::process_buffer"}})
	require.NoError(t, err)

	done := h.call(&memtarget.Call{TID: 1, PC: processBufferRT, Return: callerRetRT})
	h.waitPause(t)
	require.NoError(t, h.eng.Continue(1, StepInto))
	waitDone(t, done)
	assert.Equal(t, 1, h.ic.Count(0x1010+slide), "next statement")
	assert.Equal(t, 1, h.ic.Count(mixRT), "callee entry")
	assert.Equal(t, 1, h.ic.Count(callerRetRT), "return address")

	done = h.call(&memtarget.Call{TID: 1, PC: mixRT, Return: processBufferRT + 5})
	p := h.waitPause(t)
	assert.Equal(t, "audio::mix(float, float)", p.Function)
	assert.Equal(t, uint64(processBufferRT+5), p.ReturnAddress, "callee entry reads its own frame")
	assert.Equal(t, []uint64{processBufferRT}, h.ic.Attached())
	require.NoError(t, h.eng.Continue(1, Resume))
	waitDone(t, done)
}

func TestStepOut(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	_, err := h.eng.Install(Spec{Target: resolver.Target{Function: "audio::mix"}})
	require.NoError(t, err)

	done := h.call(&memtarget.Call{TID: 1, PC: mixRT})
	h.waitPause(t)
	assert.ErrorIs(t, h.eng.Continue(1, StepOut), ErrNoStepTarget)
	assertBlocked(t, done)
	require.NoError(t, h.eng.Continue(1, Resume))
	waitDone(t, done)

	done = h.call(&memtarget.Call{TID: 1, PC: mixRT, Return: callerRetRT})
	h.waitPause(t)
	require.NoError(t, h.eng.Continue(1, StepOut))
	waitDone(t, done)
	assert.Equal(t, []uint64{mixRT, callerRetRT}, h.ic.Attached())
}

func TestStaleStepCancelledByNewPause(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	_, err := h.eng.Install(Spec{Target: resolver.Target{Function: "audio::mix"}})
	require.NoError(t, err)

	done := h.call(&memtarget.Call{TID: 1, PC: mixRT, Return: callerRetRT})
	h.waitPause(t)
	require.NoError(t, h.eng.Continue(1, StepOut))
	waitDone(t, done)

	// The thread re-enters mix before returning, e.g. recursion.
	done = h.call(&memtarget.Call{TID: 1, PC: mixRT, Return: callerRetRT})
	h.waitPause(t)
	assert.Zero(t, h.ic.Count(callerRetRT))
	require.NoError(t, h.eng.Continue(1, Resume))
	waitDone(t, done)
}

func TestRemoveResumesPausedThreads(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	bp, err := h.eng.Install(Spec{Target: resolver.Target{Function: "audio::process_buffer"}})
	require.NoError(t, err)
	other, err := h.eng.Install(Spec{Target: resolver.Target{Function: "audio::mix"}})
	require.NoError(t, err)

	doneA := h.call(&memtarget.Call{TID: 1, PC: processBufferRT})
	doneB := h.call(&memtarget.Call{TID: 2, PC: mixRT})
	h.waitPause(t)
	h.waitPause(t)

	require.NoError(t, h.eng.Remove(bp.ID))
	waitDone(t, doneA)
	assertBlocked(t, doneB)
	assert.Zero(t, h.ic.Count(processBufferRT))

	paused := h.eng.Paused()
	require.Len(t, paused, 1)
	assert.Equal(t, other.ID, paused[0].BreakpointID)

	assert.ErrorIs(t, h.eng.Remove(bp.ID), ErrUnknownBreakpoint)
	_, err = h.eng.Get(bp.ID)
	assert.ErrorIs(t, err, ErrUnknownBreakpoint)

	require.NoError(t, h.eng.Continue(2, Resume))
	waitDone(t, doneB)
}

func TestStopResumesEverything(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	_, err := h.eng.Install(Spec{Target: resolver.Target{Function: "audio::process_buffer"}})
	require.NoError(t, err)

	dones := make([]<-chan struct{}, 0, 4)
	for tid := uint64(1); tid <= 4; tid++ {
		dones = append(dones, h.call(&memtarget.Call{TID: tid, PC: processBufferRT, Return: callerRetRT}))
	}
	for range dones {
		h.waitPause(t)
	}
	require.NoError(t, h.eng.Continue(1, StepOver))
	waitDone(t, dones[0])

	require.NoError(t, h.eng.Stop())
	for _, d := range dones[1:] {
		waitDone(t, d)
	}
	assert.Empty(t, h.ic.Attached())
	assert.Empty(t, h.eng.Paused())
	assert.Empty(t, h.eng.List())

	assert.ErrorIs(t, h.eng.Continue(2, Resume), ErrStopped)
	_, err = h.eng.Install(Spec{Target: resolver.Target{Function: "main"}})
	assert.ErrorIs(t, err, ErrStopped)
	assert.NoError(t, h.eng.Stop())
}

func TestWriteVariable(t *testing.T) {
	h := newHarness(t, debuginfotest.Tables())
	h.mem.PutUint64(debuginfotest.PointPtrAddr+slide, 0x9000)
	h.mem.PutInt32(0x9004, 1)
	h.mem.PutInt32(debuginfotest.CounterAddr+slide, 1)

	require.NoError(t, h.eng.WriteVariable("gCounter", 99))
	v, err := h.mem.Uint(debuginfotest.CounterAddr+slide, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), v)

	require.NoError(t, h.eng.WriteVariable("gPointPtr->y", 0xffffffff))
	v, err = h.mem.Uint(0x9004, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffff), v)

	assert.ErrorIs(t, h.eng.WriteVariable("nope", 1), debuginfo.ErrNotFound)
}

func TestIDRoundTrip(t *testing.T) {
	var tb table
	a := tb.insert(&point{})
	b := tb.insert(&point{})
	assert.NotEqual(t, a, b)

	_, ok := tb.remove(a)
	require.True(t, ok)
	c := tb.insert(&point{})
	assert.Equal(t, a.slot(), c.slot(), "slot reused")
	assert.NotEqual(t, a, c, "generation bumped")
	_, ok = tb.get(a)
	assert.False(t, ok, "stale id rejected")

	parsed, err := ParseID(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	for _, bad := range []string{"", "bp-", "bp-1", "bp-x.1", "bp-1.0", "1.1"} {
		_, err := ParseID(bad)
		assert.ErrorIs(t, err, ErrUnknownBreakpoint, bad)
	}
}

func TestParseStepMode(t *testing.T) {
	for _, m := range []StepMode{Resume, StepOver, StepInto, StepOut} {
		got, err := ParseStepMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseStepMode("jump")
	assert.Error(t, err)
}
