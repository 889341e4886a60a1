package debuginfo

import (
	"fmt"
	"io"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"
)

// DefaultCacheSize is the number of parsed binaries kept by a Cache.
const DefaultCacheSize = 16

// Cache shares parse handles between sessions targeting the same binary
// content. Entries are keyed by an xxh3 hash of the file, so a rebuilt
// binary at the same path gets a fresh parse.
type Cache struct {
	logger zerolog.Logger
	opts   Options
	spawn  func(path string) *Handle

	mu      sync.Mutex
	handles *lru.Cache[uint64, *Handle]
	evicted []*Handle
}

// NewCache creates a cache holding up to size parsed binaries.
func NewCache(logger zerolog.Logger, size int, opts Options) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &Cache{
		logger: logger.With().Str("component", "debuginfo-cache").Logger(),
		opts:   opts,
	}
	c.spawn = func(path string) *Handle { return Spawn(c.logger, path, c.opts) }
	handles, err := lru.NewWithEvict[uint64, *Handle](size, func(_ uint64, h *Handle) {
		if _, done, err := h.TryGet(); done && err != nil {
			return
		}
		// Holders may still use an evicted index; it is closed with the cache.
		c.evicted = append(c.evicted, h)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	c.handles = handles
	return c, nil
}

// Get returns the parse handle for the binary at path, starting a parse if
// this content has not been seen or its last parse failed. Waiters on a
// failed handle keep seeing its error.
func (c *Cache) Get(path string) (*Handle, error) {
	hash, err := HashFile(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles.Get(hash); ok {
		_, done, perr := h.TryGet()
		if !done || perr == nil {
			c.logger.Debug().Str("binary", path).Msg("Cache hit for debug info")
			return h, nil
		}
		// A dSYM or detached debug file may have appeared since.
		c.logger.Debug().Err(perr).Str("binary", path).Msg("Retrying failed debug info parse")
		c.handles.Remove(hash)
	}

	h := c.spawn(path)
	c.handles.Add(hash, h)
	return h, nil
}

// Len returns the number of cached binaries.
func (c *Cache) Len() int {
	return c.handles.Len()
}

// Close closes every parsed index the cache has handed out.
func (c *Cache) Close() error {
	c.mu.Lock()
	handles := append(c.handles.Values(), c.evicted...)
	c.handles.Purge()
	c.evicted = nil
	c.mu.Unlock()

	var cs closers
	for _, h := range handles {
		<-h.Done()
		if idx, _, err := h.TryGet(); err == nil && idx != nil {
			cs = append(cs, idx)
		}
	}
	return cs.Close()
}

// HashFile returns the xxh3 hash of a file's contents.
func HashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return h.Sum64(), nil
}
