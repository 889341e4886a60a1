// Package logging builds the zerolog loggers every strobe component takes.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config contains logger configuration.
type Config struct {
	// Level is one of trace, debug, info, warn, error or off.
	Level string `yaml:"level" env:"STROBE_LOG_LEVEL"`
	// Pretty switches to console output.
	Pretty bool `yaml:"pretty" env:"STROBE_LOG_PRETTY"`
	// Output defaults to os.Stderr; stdout carries command output and
	// events.
	Output io.Writer `yaml:"-"`
}

var levels = map[string]zerolog.Level{
	"trace":    zerolog.TraceLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"off":      zerolog.Disabled,
	"disabled": zerolog.Disabled,
}

func lookupLevel(name string) (zerolog.Level, bool) {
	l, ok := levels[strings.ToLower(strings.TrimSpace(name))]
	return l, ok
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to
// info.
func ParseLevel(name string) zerolog.Level {
	if l, ok := lookupLevel(name); ok {
		return l
	}
	return zerolog.InfoLevel
}

// ValidLevel reports whether name is a known level.
func ValidLevel(name string) bool {
	_, ok := lookupLevel(name)
	return ok
}

// New creates a logger from cfg.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// The global level starts at debug and would filter trace events.
	level := ParseLevel(cfg.Level)
	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// NewWithComponent is New with a component field.
func NewWithComponent(cfg Config, component string) zerolog.Logger {
	return New(cfg).With().Str("component", component).Logger()
}
