package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache is a TTL-based in-memory cache for authenticated fleet contexts.
// Uses sync.Map for lock-free reads on the hot path.
//
// Stale-while-revalidate: when an entry expires, Get() still returns the
// stale value immediately and signals that a background refresh is needed,
// so no request blocks on DB + bcrypt after the first cold start.
type AuthCache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	fleet      *FleetContext
	expiresAt  time.Time
	refreshing atomic.Bool // prevents duplicate background refreshes
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Fleet        *FleetContext
	Hit          bool // a value was found, fresh or stale
	NeedsRefresh bool // the entry is expired and should refresh in the background
}

// Get looks up the API key in the cache.
//
// Fresh hit:  {Fleet, Hit=true,  NeedsRefresh=false}
// Stale hit:  {Fleet, Hit=true,  NeedsRefresh=true}
// Miss:       {nil,   Hit=false, NeedsRefresh=false}
//
// The refreshing flag is swapped atomically so only one goroutine refreshes
// per key.
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(apiKey)
	if !ok {
		return GetResult{}
	}

	entry := val.(*cacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return GetResult{Fleet: entry.fleet, Hit: true}
	}

	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return GetResult{
		Fleet:        entry.fleet,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a fleet context in the cache with the configured TTL.
func (c *AuthCache) Set(apiKey string, fleet *FleetContext) {
	c.store.Store(apiKey, &cacheEntry{
		fleet:     fleet,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(apiKey)
}
