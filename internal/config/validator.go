package config

import (
	"fmt"
	"strings"

	"github.com/coral-mesh/strobe/internal/constants"
	"github.com/coral-mesh/strobe/internal/logging"
)

// Validator is the interface for validating configuration.
type Validator interface {
	Validate() error
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Log.Level != "" && !logging.ValidLevel(c.Log.Level) {
		add("log.level", "unknown level %q", c.Log.Level)
	}

	if c.Index.CacheSize <= 0 {
		add("index.cache_size", "must be positive")
	}
	if c.Index.NearestLines < 0 {
		add("index.nearest_lines", "must not be negative")
	}
	if c.Index.StructDepth < 0 || c.Index.StructDepth > constants.MaxStructDepth {
		add("index.struct_depth", "must be between 0 and %d", constants.MaxStructDepth)
	}
	if c.Index.Timeout <= 0 {
		add("index.timeout", "must be positive")
	}

	if !isPowerOfTwo(c.Collection.RingCapacity) {
		add("collection.ring_capacity", "must be a power of two, got %d", c.Collection.RingCapacity)
	}
	if c.Collection.SampleWatermark < 0 || c.Collection.SampleWatermark > 1 {
		add("collection.sample_watermark", "must be between 0 and 1")
	}
	if c.Collection.SampleWatermark > 0 && c.Collection.SampleInterval < 2 {
		add("collection.sample_interval", "must be at least 2 when sampling is enabled")
	}

	if c.Drain.Interval <= 0 {
		add("drain.interval", "must be positive")
	}
	if c.Drain.BatchSize <= 0 {
		add("drain.batch_size", "must be positive")
	}
	if c.Drain.EventBuffer < 0 {
		add("drain.event_buffer", "must not be negative")
	}

	if !isPowerOfTwo(c.Uprobe.RingBytes) || c.Uprobe.RingBytes < 4096 {
		add("uprobe.ring_bytes", "must be a power of two of at least 4096, got %d", c.Uprobe.RingBytes)
	}
	if c.Uprobe.QueueSize <= 0 {
		add("uprobe.queue_size", "must be positive")
	}
	if c.Uprobe.WorkerIdle <= 0 {
		add("uprobe.worker_idle", "must be positive")
	}

	if c.Target.MapRetries <= 0 {
		add("target.map_retries", "must be positive")
	}
	if c.Target.MapBackoff <= 0 {
		add("target.map_backoff", "must be positive")
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}
