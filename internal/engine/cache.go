package engine

import "time"

// resultCache remembers outcomes of previously seen signatures.
//
// Two separate records with different lifetimes:
//   - the TTL cache serves stored results for read-only calls, with lazy
//     eviction on lookup;
//   - the idempotency ledger records side-effecting signatures that have
//     executed successfully. Ledger entries are never evicted during the
//     run, so a replay stays blocked even after cache expiry.
type resultCache struct {
	ttl     time.Duration
	entries map[CallSig]cacheEntry
	ledger  map[CallSig]struct{}
}

type cacheEntry struct {
	result    ToolResult
	expiresAt time.Time
}

func newResultCache(cfg Config) *resultCache {
	return &resultCache{
		ttl:     cfg.CacheTTL,
		entries: make(map[CallSig]cacheEntry),
		ledger:  make(map[CallSig]struct{}),
	}
}

// Get returns a live cached result for sig, marking it served-from-cache.
// Expired entries are treated as absent and dropped.
func (c *resultCache) Get(sig CallSig, now time.Time) (*ToolResult, bool) {
	entry, ok := c.entries[sig]
	if !ok {
		return nil, false
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, sig)
		return nil, false
	}
	res := entry.result
	res.Cached = true
	return &res, true
}

// Put stores a successful read-only result with the configured TTL.
func (c *resultCache) Put(sig CallSig, res ToolResult, now time.Time) {
	c.entries[sig] = cacheEntry{
		result:    res,
		expiresAt: now.Add(c.ttl),
	}
}

// MarkExecuted records a successful side-effect execution in the
// idempotency ledger.
func (c *resultCache) MarkExecuted(sig CallSig) {
	c.ledger[sig] = struct{}{}
}

// Replayed reports whether this exact side-effecting call already executed
// successfully during the run.
func (c *resultCache) Replayed(sig CallSig) bool {
	_, ok := c.ledger[sig]
	return ok
}
