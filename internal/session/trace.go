package session

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/coral-mesh/strobe/internal/collection"
	"github.com/coral-mesh/strobe/internal/target"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

func (b *binding) samplable(name string) bool {
	for _, p := range b.nonSamplable {
		if p.Match(name) {
			return false
		}
	}
	return true
}

// TraceFunctions intercepts every function the pattern selects and runs
// the collection trampoline on each call. Functions already traced are
// left alone. It returns the functions traced by this call.
func (s *Session) TraceFunctions(ctx context.Context, pattern string) ([]collection.Function, error) {
	b, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	fns, err := b.res.ResolveTargets(pattern)
	if err != nil {
		return nil, err
	}
	if len(fns) == 0 {
		return nil, fmt.Errorf("pattern %s: %w", pattern, debuginfo.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrClosed
	}

	var (
		added  []collection.Function
		result *multierror.Error
	)
	for _, fn := range fns {
		addr, err := s.Runtime(fn.LowPC)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		id := s.funcs.Register(fn.Name, addr, !b.samplable(fn.Name))
		if _, ok := s.traced[id]; ok {
			continue
		}
		h, err := s.icpt.Attach(addr, func(cc target.CallContext) {
			s.tramp.OnCall(id, cc.ThreadID())
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("trace %s: %w", fn.Name, err))
			continue
		}
		s.traced[id] = h
		f, _ := s.funcs.Lookup(id)
		added = append(added, f)
	}

	s.logger.Info().
		Str("pattern", pattern).
		Int("matched", len(fns)).
		Int("traced", len(added)).
		Msg("Tracing functions")
	return added, result.ErrorOrNil()
}

// UntraceFunctions removes the interceptions of traced functions the
// pattern selects and returns how many were removed. Their function ids
// stay registered.
func (s *Session) UntraceFunctions(ctx context.Context, pattern string) (int, error) {
	b, err := s.bind(ctx)
	if err != nil {
		return 0, err
	}
	fns, err := b.res.ResolveTargets(pattern)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	selected := make(map[uint64]bool, len(fns))
	for _, fn := range fns {
		if addr, err := s.Runtime(fn.LowPC); err == nil {
			selected[addr] = true
		}
	}

	var (
		removed int
		result  *multierror.Error
	)
	for id, h := range s.traced {
		f, _ := s.funcs.Lookup(id)
		if !selected[f.Address] {
			continue
		}
		delete(s.traced, id)
		if err := s.icpt.Detach(h); err != nil {
			result = multierror.Append(result, fmt.Errorf("untrace %s: %w", f.Name, err))
			continue
		}
		removed++
	}
	return removed, result.ErrorOrNil()
}

// Traced returns the functions currently intercepted, in id order.
func (s *Session) Traced() []collection.Function {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []collection.Function
	for _, f := range s.funcs.All() {
		if _, ok := s.traced[f.ID]; ok {
			out = append(out, f)
		}
	}
	return out
}
