package debuginfo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualSpawn makes a cache hand out handles the test resolves itself.
func manualSpawn(c *Cache) *[]*Handle {
	var spawned []*Handle
	c.spawn = func(string) *Handle {
		h := newHandle()
		spawned = append(spawned, h)
		return h
	}
	return &spawned
}

func TestCacheKeyedByContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app")
	require.NoError(t, os.WriteFile(path, []byte("not really a binary"), 0o600))

	c, err := NewCache(zerolog.Nop(), 2, Options{})
	require.NoError(t, err)
	spawned := manualSpawn(c)

	h1, err := c.Get(path)
	require.NoError(t, err)
	h2, err := c.Get(path)
	require.NoError(t, err)
	assert.Same(t, h1, h2, "a pending parse is shared")
	assert.Equal(t, 1, c.Len())

	h1.resolve(Empty(), nil)
	h2, err = c.Get(path)
	require.NoError(t, err)
	assert.Same(t, h1, h2, "a successful parse is shared")

	require.NoError(t, os.WriteFile(path, []byte("rebuilt binary contents"), 0o600))
	h3, err := c.Get(path)
	require.NoError(t, err)
	assert.NotSame(t, h1, h3)
	assert.Equal(t, 2, c.Len())
	assert.Len(t, *spawned, 2)

	h3.resolve(Empty(), nil)
	assert.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
}

func TestCacheRetriesFailedParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.WriteFile(path, []byte("stripped"), 0o600))

	c, err := NewCache(zerolog.Nop(), 2, Options{})
	require.NoError(t, err)
	spawned := manualSpawn(c)

	failed, err := c.Get(path)
	require.NoError(t, err)
	failed.resolve(nil, ErrNoDebugInfo)

	retry, err := c.Get(path)
	require.NoError(t, err)
	assert.NotSame(t, failed, retry)
	assert.Len(t, *spawned, 2)
	assert.Equal(t, 1, c.Len())

	_, err = failed.Get(context.Background())
	assert.ErrorIs(t, err, ErrNoDebugInfo, "existing waiters keep the failure")

	retry.resolve(Empty(), nil)
	again, err := c.Get(path)
	require.NoError(t, err)
	assert.Same(t, retry, again)
	assert.NoError(t, c.Close())
}

func TestCacheRealParseFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.WriteFile(path, []byte("not really a binary"), 0o600))

	c, err := NewCache(zerolog.Nop(), 2, Options{})
	require.NoError(t, err)
	h, err := c.Get(path)
	require.NoError(t, err)
	_, err = h.Get(context.Background())
	assert.Error(t, err)

	h2, err := c.Get(path)
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	assert.NoError(t, c.Close())
}

func TestCacheMissingFile(t *testing.T) {
	c, err := NewCache(zerolog.Nop(), 0, Options{})
	require.NoError(t, err)

	_, err = c.Get("/nonexistent/app")
	assert.Error(t, err)
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o600))

	ha, err := HashFile(a)
	require.NoError(t, err)
	hb, err := HashFile(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}
