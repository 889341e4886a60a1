package drain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"github.com/coral-mesh/strobe/internal/collection"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
	"github.com/coral-mesh/strobe/pkg/resolver"
)

// maxGenerations is how many slot-table generations keep their labels.
// Entries from older generations are reported without slot values.
const maxGenerations = 8

// ErrDuplicateWatch is returned when an expression watch label is reused.
var ErrDuplicateWatch = errors.New("duplicate watch label")

// Watch is a value to report on traced calls. Scope lists function globs
// the watch applies to; an empty scope applies everywhere.
type Watch struct {
	Label  string          `json:"label" yaml:"label"`
	Recipe resolver.Recipe `json:"recipe" yaml:"-"`
	Scope  []string        `json:"scope,omitempty" yaml:"scope,omitempty"`
}

type compiledWatch struct {
	Watch
	scope []*debuginfo.Pattern
}

func (w *compiledWatch) inScope(function string) bool {
	if len(w.scope) == 0 {
		return true
	}
	for _, p := range w.scope {
		if p.Match(function) {
			return true
		}
	}
	return false
}

type generation struct {
	slots []compiledWatch
	// scoped caches, per function id, the slot indexes in scope.
	scoped map[uint32][]int
}

// WatchSet holds the labels of slot-backed watches for every live slot
// table generation, and the host-evaluated expression watches.
type WatchSet struct {
	sep atomic.String

	mu          sync.Mutex
	generations map[uint64]*generation
	exprs       []*compiledWatch
	exprScoped  map[uint32][]*compiledWatch
}

// NewWatchSet creates an empty set. sep is the name separator scope globs
// are compiled with.
func NewWatchSet(sep string) *WatchSet {
	s := &WatchSet{
		generations: make(map[uint64]*generation),
		exprScoped:  make(map[uint32][]*compiledWatch),
	}
	s.sep.Store(sep)
	return s
}

// SetSeparator changes the separator later scopes are compiled with, for a
// set created before its image was parsed.
func (s *WatchSet) SetSeparator(sep string) {
	s.sep.Store(sep)
}

func (s *WatchSet) compile(w Watch) (compiledWatch, error) {
	cw := compiledWatch{Watch: w}
	for _, pattern := range w.Scope {
		p, err := debuginfo.CompilePattern(strings.TrimSpace(pattern), s.sep.Load())
		if err != nil {
			return compiledWatch{}, fmt.Errorf("watch %s scope %q: %w", w.Label, pattern, err)
		}
		cw.scope = append(cw.scope, p)
	}
	return cw, nil
}

// Apply converts watches into slot descriptors, installs them in table and
// records their labels under the new generation. The drain side cannot see
// the generation before its labels are recorded.
func (s *WatchSet) Apply(table *collection.SlotTable, slide int64, watches []Watch) (uint64, error) {
	if len(watches) > collection.SlotCount {
		return 0, fmt.Errorf("%d watches: %w", len(watches), collection.ErrTooManySlots)
	}
	compiled := make([]compiledWatch, len(watches))
	descs := make([]collection.SlotDescriptor, len(watches))
	for i, w := range watches {
		cw, err := s.compile(w)
		if err != nil {
			return 0, err
		}
		d, err := collection.SlotFromRecipe(w.Recipe, slide)
		if err != nil {
			return 0, err
		}
		compiled[i], descs[i] = cw, d
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen, err := table.Update(descs)
	if err != nil {
		return 0, err
	}
	s.generations[gen] = &generation{slots: compiled, scoped: make(map[uint32][]int)}
	for g := range s.generations {
		if g+maxGenerations <= gen {
			delete(s.generations, g)
		}
	}
	return gen, nil
}

// slotWatches returns the watches of generation gen in scope for function
// id, keyed by slot index.
func (s *WatchSet) slotWatches(gen uint64, id uint32, function string) ([]int, []compiledWatch) {
	if gen == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.generations[gen]
	if !ok {
		return nil, nil
	}
	idx, ok := g.scoped[id]
	if !ok {
		for i := range g.slots {
			if g.slots[i].inScope(function) {
				idx = append(idx, i)
			}
		}
		g.scoped[id] = idx
	}
	return idx, g.slots
}

// AddExpression registers a host-evaluated watch. Unlike slot watches
// these have no count limit and may have any number of hops.
func (s *WatchSet) AddExpression(w Watch) error {
	cw, err := s.compile(w)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exprs {
		if e.Label == w.Label {
			return fmt.Errorf("%s: %w", w.Label, ErrDuplicateWatch)
		}
	}
	s.exprs = append(s.exprs, &cw)
	s.exprScoped = make(map[uint32][]*compiledWatch)
	return nil
}

// RemoveExpression drops the expression watch with label. It reports
// whether one existed.
func (s *WatchSet) RemoveExpression(label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.exprs {
		if e.Label == label {
			s.exprs = append(s.exprs[:i], s.exprs[i+1:]...)
			s.exprScoped = make(map[uint32][]*compiledWatch)
			return true
		}
	}
	return false
}

// Expressions returns the labels of all expression watches, sorted.
func (s *WatchSet) Expressions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.exprs))
	for i, e := range s.exprs {
		out[i] = e.Label
	}
	sort.Strings(out)
	return out
}

func (s *WatchSet) expressionWatches(id uint32, function string) []*compiledWatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.exprScoped[id]; ok {
		return ws
	}
	var ws []*compiledWatch
	for _, e := range s.exprs {
		if e.inScope(function) {
			ws = append(ws, e)
		}
	}
	s.exprScoped[id] = ws
	return ws
}
