package scanner

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_scan_cache_hits_total",
		Help: "Scan file cache hits",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_scan_cache_misses_total",
		Help: "Scan file cache misses",
	})
)

// FileCache memoizes per-file extraction results between scans. Entries are
// keyed by path, size, and modification time, so an edited file always
// misses. Watch mode and remediation rescans hit this heavily.
type FileCache struct {
	lru *expirable.LRU[string, *fileExtract]
}

// NewFileCache builds a cache holding at most maxSize entries for ttl.
func NewFileCache(maxSize int, ttl time.Duration) *FileCache {
	return &FileCache{lru: expirable.NewLRU[string, *fileExtract](maxSize, nil, ttl)}
}

// Key derives the cache key for a file from its stat info.
func (c *FileCache) Key(path string, info fs.FileInfo) string {
	return fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
}

// Get returns a memoized extract, counting the hit or miss.
func (c *FileCache) Get(key string) (*fileExtract, bool) {
	ext, ok := c.lru.Get(key)
	if ok {
		cacheHitsTotal.Inc()
		return ext, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Add memoizes an extract.
func (c *FileCache) Add(key string, ext *fileExtract) {
	c.lru.Add(key, ext)
}

// Len reports the number of live entries.
func (c *FileCache) Len() int {
	return c.lru.Len()
}
