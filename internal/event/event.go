// Package event defines the structured events a session produces and the
// sinks that consume them.
package event

import (
	"time"
)

// Kind identifies the payload an Event carries.
type Kind string

const (
	// KindWatchValues carries the watch values sampled on one traced call.
	KindWatchValues Kind = "watch_values"
	// KindBreakpointHit is emitted when a thread pauses.
	KindBreakpointHit Kind = "breakpoint_hit"
	// KindLogpointMessage carries a rendered logpoint template.
	KindLogpointMessage Kind = "logpoint_message"
	// KindConditionError reports a condition that failed to evaluate.
	KindConditionError Kind = "condition_error"
	// KindOverflow reports entries dropped by the collection ring.
	KindOverflow Kind = "overflow"
)

// PauseReason says why a thread stopped.
type PauseReason string

const (
	ReasonBreakpoint PauseReason = "breakpoint"
	ReasonStep       PauseReason = "step"
)

// WatchValue is one formatted watch reading.
type WatchValue struct {
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
	Raw   uint64 `json:"raw"`
	Type  string `json:"type,omitempty"`
	Error string `json:"error,omitempty"`
}

// Event is the single record type delivered to sinks. Which fields are set
// depends on Kind.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	ThreadID  uint64    `json:"thread_id,omitempty"`
	Function  string    `json:"function,omitempty"`

	// watch_values
	Generation uint64       `json:"generation,omitempty"`
	Values     []WatchValue `json:"values,omitempty"`

	// breakpoint_hit, logpoint_message, condition_error
	BreakpointID  string      `json:"breakpoint_id,omitempty"`
	Reason        PauseReason `json:"reason,omitempty"`
	File          string      `json:"file,omitempty"`
	Line          uint32      `json:"line,omitempty"`
	Address       uint64      `json:"address,omitempty"`
	ReturnAddress uint64      `json:"return_address,omitempty"`
	Message       string      `json:"message,omitempty"`

	// overflow
	Dropped uint64 `json:"dropped,omitempty"`
	Total   uint64 `json:"total,omitempty"`
}

// Sink accepts events. Emit is called from target threads and the drain
// loop and must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) {
	f(e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans every event out to all sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}
