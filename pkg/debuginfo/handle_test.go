package debuginfo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleReady(t *testing.T) {
	idx := Empty()
	h := Ready(idx)

	got, ok, err := h.TryGet()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Same(t, idx, got)

	got, err = h.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, idx, got)
}

func TestHandleFailureReplayed(t *testing.T) {
	parseErr := errors.New("corrupt .debug_info")
	h := newHandle()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.Get(context.Background())
		}(i)
	}

	_, ok, _ := h.TryGet()
	assert.False(t, ok, "pending handle must not block or report done")

	h.resolve(nil, parseErr)
	h.resolve(Empty(), nil) // second assignment is ignored
	wg.Wait()

	for _, err := range errs {
		assert.Same(t, parseErr, err)
	}
	_, ok, err := h.TryGet()
	assert.True(t, ok)
	assert.Same(t, parseErr, err)
}

func TestHandleGetHonoursContext(t *testing.T) {
	h := newHandle()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpawnMissingBinary(t *testing.T) {
	h := Spawn(zerolog.Nop(), "/nonexistent/binary", Options{})
	_, err := h.Get(context.Background())
	require.Error(t, err)

	_, err2 := h.Get(context.Background())
	assert.Equal(t, err, err2)
}

func TestFailed(t *testing.T) {
	h := Failed(ErrNoDebugInfo)
	_, err := h.Get(context.Background())
	assert.ErrorIs(t, err, ErrNoDebugInfo)
}

func TestHandlePending(t *testing.T) {
	h, resolve := Pending()
	_, ok, _ := h.TryGet()
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	idx := Empty()
	resolve(idx, nil)
	resolve(nil, ErrNoDebugInfo)
	got, err := h.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, idx, got, "first resolution wins")
}
