package event

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// DefaultBufferSize is the capacity of a ChannelSink created with size <= 0.
const DefaultBufferSize = 1000

// ChannelSink delivers events on a buffered channel. Emit never blocks:
// when the buffer is full the event is dropped and counted.
type ChannelSink struct {
	logger  zerolog.Logger
	ch      chan Event
	dropped atomic.Uint64
	closed  atomic.Bool
	mu      sync.RWMutex
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(logger zerolog.Logger, size int) *ChannelSink {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &ChannelSink{
		logger: logger.With().Str("component", "event_sink").Logger(),
		ch:     make(chan Event, size),
	}
}

// Emit queues e, dropping it when the buffer is full or the sink is closed.
func (s *ChannelSink) Emit(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- e:
	default:
		if s.dropped.Inc()%DefaultBufferSize == 1 {
			s.logger.Warn().
				Str("kind", string(e.Kind)).
				Uint64("dropped", s.dropped.Load()).
				Msg("Event buffer full, dropping event")
		}
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Dropped returns the number of events dropped so far.
func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close closes the event channel. Later Emit calls are ignored.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
	return nil
}

// WriterSink encodes every event as one JSON line.
type WriterSink struct {
	logger zerolog.Logger
	mu     sync.Mutex
	enc    *json.Encoder
}

// NewWriterSink creates a sink writing JSON lines to w.
func NewWriterSink(logger zerolog.Logger, w io.Writer) *WriterSink {
	return &WriterSink{
		logger: logger.With().Str("component", "event_writer").Logger(),
		enc:    json.NewEncoder(w),
	}
}

// Emit writes e. Encoding errors are logged and otherwise ignored.
func (s *WriterSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(e); err != nil {
		s.logger.Error().Err(err).Str("kind", string(e.Kind)).Msg("Failed to write event")
	}
}

// Recorder keeps every event in memory. It is meant for tests and for
// short command-line sessions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
