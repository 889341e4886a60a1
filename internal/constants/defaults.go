package constants

import "time"

// Collection - ring buffer and sampling defaults.
const (
	// DefaultRingCapacity is the number of entries the collection ring
	// holds. Must be a power of two.
	DefaultRingCapacity = 1 << 14

	// DefaultSampleWatermark is the ring occupancy fraction at which calls
	// start being decimated. Zero disables sampling.
	DefaultSampleWatermark = 0.75

	// DefaultSampleInterval keeps one call in this many while sampling.
	DefaultSampleInterval = 8
)

// Drain - host-side consumer defaults.
const (
	DefaultDrainInterval = 10 * time.Millisecond

	DefaultDrainBatchSize = 512

	// DefaultEventBuffer is the capacity of the channel sink.
	DefaultEventBuffer = 4096
)

// Index - debug-info defaults.
const (
	// DefaultIndexCacheSize is how many parsed binaries are kept.
	DefaultIndexCacheSize = 16

	// DefaultNearestLines is how many alternatives a no-code-at-line error
	// suggests.
	DefaultNearestLines = 3

	// DefaultStructDepth is how deep pointer-to-struct members expand.
	DefaultStructDepth = 1

	// MaxStructDepth caps DefaultStructDepth and user overrides.
	MaxStructDepth = 5

	// DefaultIndexTimeout bounds how long a command waits for the
	// background parse.
	DefaultIndexTimeout = 2 * time.Minute
)

// Uprobe - kernel interception defaults.
const (
	// DefaultUprobeRingBytes is the size of the BPF ring buffer. Must be a
	// power of two multiple of the page size.
	DefaultUprobeRingBytes = 1 << 20

	// DefaultUprobeQueueSize is the per-thread hit queue length.
	DefaultUprobeQueueSize = 256

	// DefaultUprobeWorkerIdle is how long a thread's dispatch worker waits
	// for a hit before it exits.
	DefaultUprobeWorkerIdle = 30 * time.Second
)

// Target - process attach defaults.
const (
	// DefaultMapRetries is how many times the image mapping of a freshly
	// started process is looked up before attach fails.
	DefaultMapRetries = 5

	// DefaultMapBackoff is the first wait between mapping lookups.
	DefaultMapBackoff = 50 * time.Millisecond
)
