package debuginfo_test

import "github.com/rs/zerolog"

func zeroLogger() zerolog.Logger {
	return zerolog.Nop()
}
