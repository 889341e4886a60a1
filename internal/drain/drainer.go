// Package drain consumes the collection ring on the host: it labels slot
// values with the watches in scope for the traced function, evaluates
// expression watches against live memory and emits one event per entry.
package drain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/strobe/internal/collection"
	"github.com/coral-mesh/strobe/internal/event"
	"github.com/coral-mesh/strobe/pkg/resolver"
)

// Defaults for Config.
const (
	DefaultInterval  = 10 * time.Millisecond
	DefaultBatchSize = 512
)

// Config controls a Drainer.
type Config struct {
	Interval  time.Duration
	BatchSize int
	SessionID string
	// Slide is added to expression watch recipes.
	Slide int64
}

// Drainer is the single consumer of a ring.
type Drainer struct {
	cfg       Config
	logger    zerolog.Logger
	ring      *collection.Ring
	functions *collection.FunctionTable
	watches   *WatchSet
	mem       resolver.MemoryReader
	sink      event.Sink

	mu           sync.Mutex
	buf          []collection.Entry
	lastOverflow uint64
	drained      uint64
}

// New creates a drainer. mem may be nil when no expression watches are
// used.
func New(
	logger zerolog.Logger,
	cfg Config,
	ring *collection.Ring,
	functions *collection.FunctionTable,
	watches *WatchSet,
	mem resolver.MemoryReader,
	sink event.Sink,
) *Drainer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Drainer{
		cfg:       cfg,
		logger:    logger.With().Str("component", "drain").Logger(),
		ring:      ring,
		functions: functions,
		watches:   watches,
		mem:       mem,
		sink:      sink,
		buf:       make([]collection.Entry, cfg.BatchSize),
	}
}

// Run drains every Interval until ctx is done, then drains once more so
// nothing committed before cancellation is lost.
func (d *Drainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Debug().Dur("interval", d.cfg.Interval).Msg("Drain loop started")
	for {
		select {
		case <-ctx.Done():
			d.DrainOnce()
			d.logger.Debug().Uint64("drained", d.Drained()).Msg("Drain loop stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			d.DrainOnce()
		}
	}
}

// DrainOnce consumes every committed entry and returns how many it
// processed.
func (d *Drainer) DrainOnce() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := 0
	for {
		entries := d.ring.Drain(d.buf)
		for i := range entries {
			d.process(entries[i])
		}
		total += len(entries)
		if len(entries) < len(d.buf) {
			break
		}
	}
	d.drained += uint64(total)
	d.reportOverflow()
	return total
}

// Drained returns the number of entries processed so far.
func (d *Drainer) Drained() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drained
}

func (d *Drainer) process(e collection.Entry) {
	function := d.functions.Name(e.FuncID)

	ev := event.Event{
		Kind:       event.KindWatchValues,
		Timestamp:  time.Unix(0, e.Timestamp),
		SessionID:  d.cfg.SessionID,
		ThreadID:   e.ThreadID,
		Function:   function,
		Generation: e.Generation,
	}

	idx, slots := d.watches.slotWatches(e.Generation, e.FuncID, function)
	for _, i := range idx {
		w := slots[i]
		ev.Values = append(ev.Values, event.WatchValue{
			Label: w.Label,
			Value: FormatValue(e.Values[i], w.Recipe.FinalSize, w.Recipe.Type),
			Raw:   e.Values[i],
			Type:  w.Recipe.TypeName,
		})
	}

	for _, w := range d.watches.expressionWatches(e.FuncID, function) {
		v := event.WatchValue{Label: w.Label, Type: w.Recipe.TypeName}
		if d.mem == nil {
			v.Error = "no memory reader"
		} else if raw, err := w.Recipe.Read(d.mem, d.cfg.Slide); err != nil {
			v.Error = err.Error()
		} else {
			v.Raw = raw
			v.Value = FormatValue(raw, w.Recipe.FinalSize, w.Recipe.Type)
		}
		ev.Values = append(ev.Values, v)
	}

	d.sink.Emit(ev)
}

func (d *Drainer) reportOverflow() {
	total := d.ring.Overflow()
	if total == d.lastOverflow {
		return
	}
	dropped := total - d.lastOverflow
	d.lastOverflow = total

	d.logger.Warn().Uint64("dropped", dropped).Uint64("total", total).Msg("Ring buffer overflow")
	d.sink.Emit(event.Event{
		Kind:      event.KindOverflow,
		Timestamp: time.Now(),
		SessionID: d.cfg.SessionID,
		Dropped:   dropped,
		Total:     total,
	})
}
