package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFromEnv(t *testing.T) {
	cfg := Default()
	err := loadFromEnv(reflect.ValueOf(cfg), mapLookup(map[string]string{
		"STROBE_LOG_LEVEL":        "debug",
		"STROBE_LOG_PRETTY":       "true",
		"STROBE_RING_CAPACITY":    "0x1000",
		"STROBE_SAMPLE_WATERMARK": "0.5",
		"STROBE_SAMPLE_INTERVAL":  "4",
		"STROBE_NON_SAMPLABLE":    "audio::*, ,midi::note_on",
		"STROBE_MAP_BACKOFF":      "5ms",
		"STROBE_DRAIN_INTERVAL":   "25ms",
		"STROBE_DEBUG_ROOT":       "/usr/lib/debug",
		"STROBE_STRUCT_DEPTH":     "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, 4096, cfg.Collection.RingCapacity)
	assert.Equal(t, 0.5, cfg.Collection.SampleWatermark)
	assert.Equal(t, uint64(4), cfg.Collection.SampleInterval)
	assert.Equal(t, []string{"audio::*", "midi::note_on"}, cfg.Collection.NonSamplable)
	assert.Equal(t, 25*time.Millisecond, cfg.Drain.Interval)
	assert.Equal(t, 5*time.Millisecond, cfg.Target.MapBackoff)
	assert.Equal(t, "/usr/lib/debug", cfg.Index.SearchRoot)
	assert.Equal(t, 1, cfg.Index.StructDepth, "empty values are ignored")
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := map[string]string{
		"STROBE_RING_CAPACITY":    "lots",
		"STROBE_SAMPLE_INTERVAL":  "-1",
		"STROBE_LOG_PRETTY":       "maybe",
		"STROBE_DRAIN_INTERVAL":   "10",
		"STROBE_SAMPLE_WATERMARK": "half",
		"STROBE_MAP_RETRIES":      "1e3",
	}
	for env, value := range tests {
		t.Run(env, func(t *testing.T) {
			err := loadFromEnv(reflect.ValueOf(Default()), mapLookup(map[string]string{env: value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), env)
		})
	}
}

func TestLoadFromEnvProcess(t *testing.T) {
	t.Setenv("STROBE_UPROBE_QUEUE_SIZE", "64")
	cfg := Default()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, 64, cfg.Uprobe.QueueSize)

	var nilCfg *Config
	assert.NoError(t, LoadFromEnv(nilCfg))
}
