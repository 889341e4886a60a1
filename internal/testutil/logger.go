package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

// EnvTestLog makes NewTestLogger write through t.Log when set to a
// non-empty value.
const EnvTestLog = "STROBE_TEST_LOG"

// NewTestLogger returns a debug-level logger for t. Output is discarded
// unless STROBE_TEST_LOG is set, in which case it goes to t.Log in console
// form so it interleaves with the test's own output.
func NewTestLogger(t testing.TB) zerolog.Logger {
	t.Helper()
	var w io.Writer = io.Discard
	if os.Getenv(EnvTestLog) != "" {
		w = zerolog.ConsoleWriter{Out: zerolog.NewTestWriter(t), NoColor: true}
	}
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}
