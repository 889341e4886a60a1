package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSinkDropsWhenFull(t *testing.T) {
	s := NewChannelSink(zerolog.Nop(), 2)

	for i := 0; i < 5; i++ {
		s.Emit(Event{Kind: KindWatchValues, ThreadID: uint64(i)})
	}

	assert.Equal(t, uint64(3), s.Dropped())
	first := <-s.Events()
	second := <-s.Events()
	assert.Equal(t, uint64(0), first.ThreadID)
	assert.Equal(t, uint64(1), second.ThreadID)
}

func TestChannelSinkClose(t *testing.T) {
	s := NewChannelSink(zerolog.Nop(), 0)
	s.Emit(Event{Kind: KindOverflow})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// Emit after close is a no-op rather than a panic.
	s.Emit(Event{Kind: KindOverflow})

	var got []Event
	for e := range s.Events() {
		got = append(got, e)
	}
	assert.Len(t, got, 1)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(zerolog.Nop(), &buf)

	s.Emit(Event{
		Kind:      KindLogpointMessage,
		Timestamp: time.Unix(10, 0).UTC(),
		ThreadID:  7,
		Message:   "x=1",
	})
	s.Emit(Event{Kind: KindOverflow, Dropped: 4, Total: 9})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "logpoint_message", decoded["kind"])
	assert.Equal(t, "x=1", decoded["message"])
	assert.NotContains(t, decoded, "values")
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	sink := Multi(&a, &b, Discard)

	sink.Emit(Event{Kind: KindBreakpointHit})
	sink.Emit(Event{Kind: KindWatchValues})

	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.OfKind(KindBreakpointHit), 1)
}
