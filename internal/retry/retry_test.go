package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDo(t *testing.T) {
	permanent := errors.New("permanent")
	tests := []struct {
		name        string
		cfg         Config
		failures    int
		failWith    error
		shouldRetry ShouldRetryFunc
		wantCalls   int
		wantErr     error
	}{
		{
			name:      "first call succeeds",
			cfg:       Config{MaxRetries: 3, InitialBackoff: time.Millisecond},
			wantCalls: 1,
		},
		{
			name:        "succeeds after retries",
			cfg:         Config{MaxRetries: 5, InitialBackoff: time.Millisecond},
			failures:    2,
			failWith:    errTransient,
			shouldRetry: func(err error) bool { return errors.Is(err, errTransient) },
			wantCalls:   3,
		},
		{
			name:      "attempts exhausted",
			cfg:       Config{MaxRetries: 3, InitialBackoff: time.Millisecond},
			failures:  10,
			failWith:  errTransient,
			wantCalls: 3,
			wantErr:   errTransient,
		},
		{
			name:        "permanent error stops",
			cfg:         Config{MaxRetries: 5, InitialBackoff: time.Millisecond},
			failures:    10,
			failWith:    permanent,
			shouldRetry: func(err error) bool { return errors.Is(err, errTransient) },
			wantCalls:   1,
			wantErr:     permanent,
		},
		{
			name:      "zero retries still calls once",
			cfg:       Config{InitialBackoff: time.Millisecond},
			failures:  10,
			failWith:  errTransient,
			wantCalls: 1,
			wantErr:   errTransient,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.cfg, func() error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			}, tt.shouldRetry)

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDoExhaustedMessage(t *testing.T) {
	err := Do(context.Background(), Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		func() error { return errTransient }, nil)
	assert.EqualError(t, err, "failed after 2 attempts: transient")
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{MaxRetries: 5, InitialBackoff: time.Hour}, func() error {
		calls++
		cancel()
		return errTransient
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		attempt int
		want    time.Duration
	}{
		{"before any call", Config{InitialBackoff: 10 * time.Millisecond}, 0, 0},
		{"first wait", Config{InitialBackoff: 10 * time.Millisecond}, 1, 10 * time.Millisecond},
		{"doubles", Config{InitialBackoff: 10 * time.Millisecond}, 4, 80 * time.Millisecond},
		{"capped", Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 25 * time.Millisecond}, 3, 25 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Backoff(tt.attempt))
		})
	}

	assert.Positive(t, Config{InitialBackoff: time.Nanosecond}.Backoff(200), "no overflow")
}
