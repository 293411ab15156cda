// Package srccache caches parsed source files keyed by path and
// modification time, so repeated prompts over the same files skip reparsing.
package srccache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCapacity is the number of files kept when none is configured.
const DefaultCapacity = 100

type key struct {
	path  string
	mtime int64
}

// Cache is a fixed-capacity LRU of FileContext values. An entry is only
// returned for the exact (path, mtime) it was stored under, so a modified
// file misses and is reparsed; stale entries age out by recency.
type Cache struct {
	lru    *lru.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// New returns a cache holding up to capacity files.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New(capacity)
	if err != nil {
		panic(fmt.Sprintf("srccache: %v", err)) // unreachable for positive sizes
	}
	return &Cache{lru: l}
}

func keyFor(path string, mtime time.Time) key {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return key{path: path, mtime: mtime.UnixNano()}
}

// Get returns the entry stored for exactly this path and mtime.
func (c *Cache) Get(path string, mtime time.Time) (*FileContext, bool) {
	v, ok := c.lru.Get(keyFor(path, mtime))
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v.(*FileContext), true
}

// Insert stores fc under path and mtime, replacing any previous entry for
// the same key.
func (c *Cache) Insert(path string, mtime time.Time, fc *FileContext) {
	c.lru.Add(keyFor(path, mtime), fc)
}

// Load returns the parsed context of the file at path, from the cache when
// the file is unchanged since it was stored.
func (c *Cache) Load(path string) (*FileContext, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if fc, ok := c.Get(path, info.ModTime()); ok {
		return fc, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fc := Parse(path, src)
	c.Insert(path, info.ModTime(), fc)
	return fc, nil
}

// Stats returns hit and miss counters and the current entry count.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.lru.Len()}
}

// Purge drops every entry. Counters are kept.
func (c *Cache) Purge() { c.lru.Purge() }
