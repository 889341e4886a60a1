package session

import (
	"context"
	"fmt"

	"github.com/coral-mesh/strobe/internal/breakpoint"
)

// InstallBreakpoint arms a breakpoint that pauses the thread that hits it.
func (s *Session) InstallBreakpoint(ctx context.Context, spec breakpoint.Spec) (breakpoint.Breakpoint, error) {
	b, err := s.bind(ctx)
	if err != nil {
		return breakpoint.Breakpoint{}, err
	}
	if err := s.checkOpen(); err != nil {
		return breakpoint.Breakpoint{}, err
	}
	return b.engine.Install(spec)
}

// InstallLogpoint arms a logpoint that emits a rendered message per hit.
func (s *Session) InstallLogpoint(ctx context.Context, spec breakpoint.LogpointSpec) (breakpoint.Breakpoint, error) {
	b, err := s.bind(ctx)
	if err != nil {
		return breakpoint.Breakpoint{}, err
	}
	if err := s.checkOpen(); err != nil {
		return breakpoint.Breakpoint{}, err
	}
	return b.engine.InstallLogpoint(spec)
}

// RemoveBreakpoint resumes threads paused on id and removes it.
func (s *Session) RemoveBreakpoint(id breakpoint.ID) error {
	b := s.current()
	if b == nil {
		return fmt.Errorf("%s: %w", id, breakpoint.ErrUnknownBreakpoint)
	}
	return b.engine.Remove(id)
}

// Breakpoints lists the live breakpoints and logpoints.
func (s *Session) Breakpoints() []breakpoint.Breakpoint {
	b := s.current()
	if b == nil {
		return nil
	}
	return b.engine.List()
}

// Continue resumes a paused thread, optionally stepping.
func (s *Session) Continue(threadID uint64, mode breakpoint.StepMode) error {
	b := s.current()
	if b == nil {
		return fmt.Errorf("thread %d: %w", threadID, breakpoint.ErrNotPaused)
	}
	return b.engine.Continue(threadID, mode)
}

// Paused returns the paused threads, ordered by thread id.
func (s *Session) Paused() []breakpoint.PauseInfo {
	b := s.current()
	if b == nil {
		return nil
	}
	return b.engine.Paused()
}

// WriteVariable stores raw into the global an expression names.
func (s *Session) WriteVariable(ctx context.Context, expression string, raw uint64) error {
	b, err := s.bind(ctx)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	return b.engine.WriteVariable(expression, raw)
}
