package config

import (
	"os"

	"github.com/coral-mesh/strobe/internal/constants"
	"github.com/coral-mesh/strobe/internal/logging"
)

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: logging.Config{
			Level:  "info",
			Pretty: false,
			Output: os.Stderr,
		},
		Index: IndexConfig{
			CacheSize:    constants.DefaultIndexCacheSize,
			NearestLines: constants.DefaultNearestLines,
			StructDepth:  constants.DefaultStructDepth,
			Timeout:      constants.DefaultIndexTimeout,
		},
		Collection: CollectionConfig{
			RingCapacity:    constants.DefaultRingCapacity,
			SampleWatermark: constants.DefaultSampleWatermark,
			SampleInterval:  constants.DefaultSampleInterval,
		},
		Drain: DrainConfig{
			Interval:    constants.DefaultDrainInterval,
			BatchSize:   constants.DefaultDrainBatchSize,
			EventBuffer: constants.DefaultEventBuffer,
		},
		Uprobe: UprobeConfig{
			RingBytes:  constants.DefaultUprobeRingBytes,
			QueueSize:  constants.DefaultUprobeQueueSize,
			WorkerIdle: constants.DefaultUprobeWorkerIdle,
		},
		Target: TargetConfig{
			MapRetries: constants.DefaultMapRetries,
			MapBackoff: constants.DefaultMapBackoff,
		},
	}
}
