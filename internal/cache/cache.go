// Package cache holds the most recent sync result in memory so API
// reads never hit the object store on the hot path.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/tgasco/portfolio-sync/internal/pipeline"
)

// ProjectCache is a TTL cache of published project lists. Reads do not
// extend an entry's lifetime; only an explicit Set or Extend does, so
// a stalled refresh eventually surfaces as a cache miss.
type ProjectCache struct {
	cache *ttlcache.Cache[string, []pipeline.Project]
}

// New creates a ProjectCache whose entries live for ttl after each Set
// or Extend.
func New(ttl time.Duration) *ProjectCache {
	c := ttlcache.New(
		ttlcache.WithTTL[string, []pipeline.Project](ttl),
		ttlcache.WithDisableTouchOnHit[string, []pipeline.Project](),
	)
	go c.Start()
	return &ProjectCache{cache: c}
}

// Get returns the cached projects for key, or false when the entry is
// absent or expired.
func (c *ProjectCache) Get(key string) ([]pipeline.Project, bool) {
	item := c.cache.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Set stores projects under key with a fresh TTL.
func (c *ProjectCache) Set(key string, projects []pipeline.Project) {
	c.cache.Set(key, projects, ttlcache.DefaultTTL)
}

// Extend restarts the TTL of an existing entry without replacing its
// value. Refresh failures call this so stale data outlives the retry
// window instead of vanishing mid-recovery.
func (c *ProjectCache) Extend(key string) {
	c.cache.Touch(key)
}

// Stop terminates the background expiration loop.
func (c *ProjectCache) Stop() {
	c.cache.Stop()
}
