package errors

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCloser struct {
	closeErr error
	closed   bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return m.closeErr
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name       string
		closer     *mockCloser
		wantLogged bool
	}{
		{name: "nil closer"},
		{name: "successful close", closer: &mockCloser{}},
		{name: "close with error", closer: &mockCloser{closeErr: errors.New("close failed")}, wantLogged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			var c io.Closer
			if tt.closer != nil {
				c = tt.closer
			}
			DeferClose(logger, c, "test close")

			if tt.closer != nil {
				assert.True(t, tt.closer.closed, "Close() was not called")
			}
			assert.Equal(t, tt.wantLogged, buf.Len() > 0)
		})
	}
}

func TestCloseAll(t *testing.T) {
	first := &mockCloser{closeErr: errors.New("first")}
	second := &mockCloser{}
	third := &mockCloser{closeErr: errors.New("third")}

	err := CloseAll(first, nil, second, third)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "third")
	assert.True(t, first.closed)
	assert.True(t, second.closed)
	assert.True(t, third.closed)

	assert.NoError(t, CloseAll(&mockCloser{}, nil))
	assert.NoError(t, CloseAll())
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() { Must(nil, "init") })
	assert.PanicsWithValue(t, "init: boom", func() { Must(errors.New("boom"), "init") })
}
