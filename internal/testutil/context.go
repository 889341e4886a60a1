// Package testutil provides testing utilities for strobe packages.
package testutil

import (
	"context"
	"testing"
	"time"
)

// NewTestContext creates a test context with a 30-second timeout.
func NewTestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// Context returns a context with a 30-second timeout that is cancelled when
// the test ends.
func Context(t *testing.T) context.Context {
	ctx, cancel := NewTestContext()
	t.Cleanup(cancel)
	return ctx
}
