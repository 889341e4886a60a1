package session

import (
	"context"
	"fmt"

	"github.com/coral-mesh/strobe/internal/collection"
	"github.com/coral-mesh/strobe/internal/drain"
)

// WatchSpec names a value to report on traced calls. Label defaults to
// the expression; Scope restricts the watch to functions matching any of
// its globs.
type WatchSpec struct {
	Expression string   `json:"expression" yaml:"expression"`
	Label      string   `json:"label,omitempty" yaml:"label,omitempty"`
	Scope      []string `json:"scope,omitempty" yaml:"scope,omitempty"`
}

func (s *Session) compileWatch(b *binding, spec WatchSpec) (drain.Watch, error) {
	rec, err := b.res.ResolveExpression(spec.Expression)
	if err != nil {
		return drain.Watch{}, fmt.Errorf("watch %q: %w", spec.Expression, err)
	}
	label := spec.Label
	if label == "" {
		label = spec.Expression
	}
	rec.Label = label
	return drain.Watch{Label: label, Recipe: rec, Scope: spec.Scope}, nil
}

// UpdateWatchSlots replaces the slot-backed watches read inline by the
// trampoline. At most collection.SlotCount specs are accepted; all of them
// must resolve before any is installed. It returns the new slot-table
// generation.
func (s *Session) UpdateWatchSlots(ctx context.Context, specs []WatchSpec) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if len(specs) > collection.SlotCount {
		return 0, fmt.Errorf("%d watches: %w", len(specs), collection.ErrTooManySlots)
	}
	b, err := s.bind(ctx)
	if err != nil {
		return 0, err
	}
	watches := make([]drain.Watch, len(specs))
	for i, spec := range specs {
		w, err := s.compileWatch(b, spec)
		if err != nil {
			return 0, err
		}
		watches[i] = w
	}
	gen, err := s.watches.Apply(s.slots, s.slide, watches)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int("watches", len(watches)).Uint64("generation", gen).Msg("Watch slots updated")
	return gen, nil
}

// AddExpressionWatch adds a watch evaluated by the drain loop against live
// memory. It may walk any pointer depth, unlike slot watches.
func (s *Session) AddExpressionWatch(ctx context.Context, spec WatchSpec) error {
	b, err := s.bind(ctx)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	w, err := s.compileWatch(b, spec)
	if err != nil {
		return err
	}
	if err := s.watches.AddExpression(w); err != nil {
		return err
	}
	s.logger.Debug().Str("label", w.Label).Msg("Expression watch added")
	return nil
}

// RemoveExpressionWatch removes an expression watch by label.
func (s *Session) RemoveExpressionWatch(label string) bool {
	return s.watches.RemoveExpression(label)
}

// ExpressionWatches returns the labels of the expression watches.
func (s *Session) ExpressionWatches() []string {
	return s.watches.Expressions()
}
