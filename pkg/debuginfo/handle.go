package debuginfo

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handle is the single-assignment result of a background parse. Waiters
// block until the parse completes; a failure is captured once and returned
// to every waiter.
type Handle struct {
	once sync.Once
	done chan struct{}
	idx  *Index
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Spawn starts parsing path in the background.
func Spawn(logger zerolog.Logger, path string, opts Options) *Handle {
	h := newHandle()
	go func() {
		idx, err := Open(logger, path, opts)
		h.resolve(idx, err)
	}()
	return h
}

// Ready wraps an already built index.
func Ready(idx *Index) *Handle {
	h := newHandle()
	h.resolve(idx, nil)
	return h
}

// Failed returns a handle that reports err to every waiter.
func Failed(err error) *Handle {
	h := newHandle()
	h.resolve(nil, err)
	return h
}

// Pending returns an unresolved handle and the function that completes it,
// for callers that build the index themselves. Only the first call to
// resolve takes effect.
func Pending() (*Handle, func(*Index, error)) {
	h := newHandle()
	return h, h.resolve
}

func (h *Handle) resolve(idx *Index, err error) {
	h.once.Do(func() {
		h.idx, h.err = idx, err
		close(h.done)
	})
}

// Done is closed once the parse has completed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Get waits for the parse to finish or ctx to end.
func (h *Handle) Get(ctx context.Context) (*Index, error) {
	select {
	case <-h.done:
		return h.idx, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryGet returns the result without blocking; ok is false while the parse is
// still running.
func (h *Handle) TryGet() (idx *Index, ok bool, err error) {
	select {
	case <-h.done:
		return h.idx, true, h.err
	default:
		return nil, false, nil
	}
}
