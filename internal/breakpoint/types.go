package breakpoint

import (
	"fmt"
	"time"

	"github.com/coral-mesh/strobe/internal/event"
	"github.com/coral-mesh/strobe/pkg/resolver"
)

// Kind distinguishes blocking breakpoints from logpoints.
type Kind int

const (
	KindBreakpoint Kind = iota
	KindLogpoint
)

func (k Kind) String() string {
	if k == KindLogpoint {
		return "logpoint"
	}
	return "breakpoint"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// State is the lifecycle state reported by List.
type State string

const (
	StateArmed   State = "armed"
	StatePaused  State = "paused"
	StateRemoved State = "removed"
)

// StepMode selects how a paused thread is resumed.
type StepMode int

const (
	Resume StepMode = iota
	StepOver
	StepInto
	StepOut
)

var stepModeNames = map[StepMode]string{
	Resume:   "continue",
	StepOver: "step-over",
	StepInto: "step-into",
	StepOut:  "step-out",
}

func (m StepMode) String() string {
	if s, ok := stepModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("StepMode(%d)", int(m))
}

// ParseStepMode accepts the names printed by StepMode.String.
func ParseStepMode(s string) (StepMode, error) {
	for m, name := range stepModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown step mode %q", s)
}

// Spec describes a breakpoint to install.
type Spec struct {
	Target    resolver.Target `json:"target" yaml:"target"`
	Condition string          `json:"condition,omitempty" yaml:"condition,omitempty"`
	// HitCount is the threshold: calls that satisfy the condition pause
	// from the HitCount-th one on. Zero means 1.
	HitCount uint64 `json:"hit_count,omitempty" yaml:"hit_count,omitempty"`
}

// LogpointSpec describes a logpoint to install. Message is a template
// with {expr} placeholders.
type LogpointSpec struct {
	Target    resolver.Target `json:"target" yaml:"target"`
	Message   string          `json:"message" yaml:"message"`
	Condition string          `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Breakpoint is a point-in-time view of an installed breakpoint or
// logpoint.
type Breakpoint struct {
	ID        ID              `json:"id"`
	Kind      Kind            `json:"kind"`
	State     State           `json:"state"`
	Target    resolver.Target `json:"target"`
	Address   uint64          `json:"address"`
	Function  string          `json:"function,omitempty"`
	File      string          `json:"file,omitempty"`
	Line      uint32          `json:"line,omitempty"`
	Condition string          `json:"condition,omitempty"`
	Message   string          `json:"message,omitempty"`
	HitCount  uint64          `json:"hit_count"`
	Hits      uint64          `json:"hits"`
}

// PauseInfo describes a thread blocked at a breakpoint or step target.
type PauseInfo struct {
	ThreadID      uint64            `json:"thread_id"`
	BreakpointID  ID                `json:"breakpoint_id"`
	Reason        event.PauseReason `json:"reason"`
	Function      string            `json:"function,omitempty"`
	File          string            `json:"file,omitempty"`
	Line          uint32            `json:"line,omitempty"`
	Address       uint64            `json:"address"`
	ReturnAddress uint64            `json:"return_address,omitempty"`
	PausedAt      time.Time         `json:"paused_at"`
}
