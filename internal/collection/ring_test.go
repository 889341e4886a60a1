package collection

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingCapacity(t *testing.T) {
	for _, c := range []int{1, 3, 100, -4} {
		_, err := NewRing(c)
		assert.Error(t, err, "capacity %d", c)
	}
	r, err := NewRing(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultRingCapacity, r.Cap())
}

func TestRingFIFOAndOverflow(t *testing.T) {
	r, err := NewRing(4)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		ok := r.Push(Entry{FuncID: uint32(i)})
		assert.Equal(t, i < 4, ok, "push %d", i)
	}
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, uint64(6), r.Attempted())
	assert.Equal(t, uint64(4), r.Stored())
	assert.Equal(t, uint64(2), r.Overflow())

	got := r.Drain(make([]Entry, 8))
	require.Len(t, got, 4)
	for i, e := range got {
		assert.Equal(t, uint32(i), e.FuncID)
	}

	// Wraps around once drained.
	assert.True(t, r.Push(Entry{FuncID: 9}))
	e, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(9), e.FuncID)
	_, ok = r.Pop()
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRingConcurrentProducersAccounting(t *testing.T) {
	const (
		producers = 8
		perThread = 20000
	)
	r, err := NewRing(256)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	consumed := make(map[uint64][]uint64)
	var consumerDone sync.WaitGroup
	consumerDone.Add(1)
	go func() {
		defer consumerDone.Done()
		buf := make([]Entry, 64)
		for {
			got := r.Drain(buf)
			for _, e := range got {
				consumed[e.ThreadID] = append(consumed[e.ThreadID], e.Values[0])
			}
			if len(got) == 0 {
				select {
				case <-stop:
					for _, e := range r.Drain(make([]Entry, r.Cap())) {
						consumed[e.ThreadID] = append(consumed[e.ThreadID], e.Values[0])
					}
					return
				default:
				}
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(tid uint64) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				r.Push(Entry{ThreadID: tid, Values: [SlotCount]uint64{uint64(i)}})
			}
		}(uint64(p))
	}
	wg.Wait()
	close(stop)
	consumerDone.Wait()

	assert.Equal(t, uint64(producers*perThread), r.Attempted())
	assert.Equal(t, r.Attempted(), r.Stored()+r.Overflow())

	total := 0
	for tid, seq := range consumed {
		total += len(seq)
		for i := 1; i < len(seq); i++ {
			require.Less(t, seq[i-1], seq[i], "thread %d entries out of order", tid)
		}
	}
	assert.Equal(t, int(r.Stored()), total)
}

func TestSampler(t *testing.T) {
	assert.Nil(t, NewSampler(SamplerConfig{}, 100))
	var nilSampler *Sampler
	assert.True(t, nilSampler.Admit(100, false))

	s := NewSampler(SamplerConfig{HighWatermark: 0.5, Interval: 4}, 100)
	require.NotNil(t, s)

	for i := 0; i < 10; i++ {
		assert.True(t, s.Admit(10, false), "below watermark")
	}

	admitted := 0
	for i := 0; i < 40; i++ {
		if s.Admit(60, false) {
			admitted++
		}
	}
	assert.Equal(t, 10, admitted)
	assert.Equal(t, uint64(30), s.Skipped())

	for i := 0; i < 10; i++ {
		assert.True(t, s.Admit(99, true), "non-samplable")
	}
}
