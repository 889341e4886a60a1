package config

import (
	"time"

	"github.com/coral-mesh/strobe/internal/logging"
)

// Config is the full strobe configuration. Every field can be set from the
// YAML file and overridden by the STROBE_* variable named in its env tag.
type Config struct {
	Log        logging.Config   `yaml:"log"`
	Index      IndexConfig      `yaml:"index"`
	Collection CollectionConfig `yaml:"collection"`
	Drain      DrainConfig      `yaml:"drain"`
	Uprobe     UprobeConfig     `yaml:"uprobe"`
	Target     TargetConfig     `yaml:"target"`
}

// IndexConfig controls debug-info parsing and resolution.
type IndexConfig struct {
	// CacheSize is how many parsed binaries are kept, keyed by content.
	CacheSize int `yaml:"cache_size" env:"STROBE_INDEX_CACHE_SIZE"`
	// SymbolsPath names an explicit file holding the DWARF data.
	SymbolsPath string `yaml:"symbols_path" env:"STROBE_SYMBOLS_PATH"`
	// SearchRoot is searched for dSYM bundles and detached .debug files.
	SearchRoot string `yaml:"search_root" env:"STROBE_DEBUG_ROOT"`
	// NearestLines is how many alternatives a no-code-at-line error lists.
	NearestLines int `yaml:"nearest_lines" env:"STROBE_NEAREST_LINES"`
	// StructDepth is how deep pointer-to-struct members are expanded.
	StructDepth int `yaml:"struct_depth" env:"STROBE_STRUCT_DEPTH"`
	// Timeout bounds waits for the background parse.
	Timeout time.Duration `yaml:"timeout" env:"STROBE_INDEX_TIMEOUT"`
}

// CollectionConfig controls the watch ring buffer.
type CollectionConfig struct {
	// RingCapacity is the number of entries, a power of two.
	RingCapacity int `yaml:"ring_capacity" env:"STROBE_RING_CAPACITY"`
	// SampleWatermark is the occupancy fraction at which calls are
	// decimated. Zero disables sampling.
	SampleWatermark float64 `yaml:"sample_watermark" env:"STROBE_SAMPLE_WATERMARK"`
	// SampleInterval keeps one call in this many while sampling.
	SampleInterval uint64 `yaml:"sample_interval" env:"STROBE_SAMPLE_INTERVAL"`
	// NonSamplable lists function globs that are never sampled out.
	NonSamplable []string `yaml:"non_samplable" env:"STROBE_NON_SAMPLABLE"`
}

// DrainConfig controls the host-side consumer.
type DrainConfig struct {
	Interval  time.Duration `yaml:"interval" env:"STROBE_DRAIN_INTERVAL"`
	BatchSize int           `yaml:"batch_size" env:"STROBE_DRAIN_BATCH_SIZE"`
	// EventBuffer is the capacity of the event channel.
	EventBuffer int `yaml:"event_buffer" env:"STROBE_EVENT_BUFFER"`
}

// UprobeConfig controls the Linux uprobe interceptor.
type UprobeConfig struct {
	RingBytes int `yaml:"ring_bytes" env:"STROBE_UPROBE_RING_BYTES"`
	QueueSize int `yaml:"queue_size" env:"STROBE_UPROBE_QUEUE_SIZE"`
	// WorkerIdle reaps the dispatch worker of a thread with no hits.
	WorkerIdle time.Duration `yaml:"worker_idle" env:"STROBE_UPROBE_WORKER_IDLE"`
}

// TargetConfig controls how a live process is attached.
type TargetConfig struct {
	// MapRetries bounds the lookups of the image in /proc/<pid>/maps.
	MapRetries int `yaml:"map_retries" env:"STROBE_MAP_RETRIES"`
	// MapBackoff is the first wait between lookups. It doubles each time.
	MapBackoff time.Duration `yaml:"map_backoff" env:"STROBE_MAP_BACKOFF"`
}
