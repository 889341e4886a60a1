//go:build !linux

package uprobe

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/strobe/internal/target"
)

// Config contains configuration for the uprobe interceptor.
type Config struct {
	PID        int
	BinaryPath string
	Slide      target.SlideProvider
	RingBytes  int
	QueueSize  int
	WorkerIdle time.Duration

	FunctionEntry func(fileAddr uint64) bool

	Logger zerolog.Logger
}

// Interceptor is unavailable on this platform.
type Interceptor struct{}

// New always fails with target.ErrUnsupported.
func New(Config) (*Interceptor, error) {
	return nil, target.ErrUnsupported
}

// Attach always fails with target.ErrUnsupported.
func (i *Interceptor) Attach(uint64, target.HitHandler) (target.Handle, error) {
	return nil, target.ErrUnsupported
}

// Detach always fails with target.ErrUnsupported.
func (i *Interceptor) Detach(target.Handle) error {
	return target.ErrUnsupported
}

// Dropped always returns 0.
func (i *Interceptor) Dropped() uint64 { return 0 }

// Close is a no-op.
func (i *Interceptor) Close() error { return nil }
