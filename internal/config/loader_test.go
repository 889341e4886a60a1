package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("STROBE_CONFIG", t.TempDir())
	t.Setenv("STROBE_DRAIN_BATCH_SIZE", "128")

	l := NewLoader()
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Collection, cfg.Collection)
	assert.Equal(t, 128, cfg.Drain.BatchSize)
}

func TestLoaderReadsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STROBE_CONFIG", dir)
	t.Setenv("STROBE_LOG_LEVEL", "warn")

	data := `
log:
  level: debug
index:
  nearest_lines: 5
  search_root: /srv/debug
collection:
  ring_capacity: 1024
  non_samplable: ["audio::render"]
drain:
  interval: 50ms
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(data), 0o600))

	l := NewLoader()
	assert.Equal(t, filepath.Join(dir, "config.yaml"), l.Path())
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level, "environment overrides the file")
	assert.Equal(t, 5, cfg.Index.NearestLines)
	assert.Equal(t, "/srv/debug", cfg.Index.SearchRoot)
	assert.Equal(t, 1024, cfg.Collection.RingCapacity)
	assert.Equal(t, []string{"audio::render"}, cfg.Collection.NonSamplable)
	assert.Equal(t, 50*time.Millisecond, cfg.Drain.Interval)
	assert.Equal(t, Default().Uprobe, cfg.Uprobe, "unset sections keep defaults")
}

func TestFromReaderErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "drain:\n  speed: 3\n", "field speed not found"},
		{"bad type", "drain:\n  batch_size: many\n", "failed to parse config"},
		{"invalid value", "collection:\n  ring_capacity: 1000\n", "collection.ring_capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromReaderEmptyDocument(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Index, cfg.Index)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
