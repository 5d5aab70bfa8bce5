package engine

import (
	"testing"
	"time"
)

func cacheConfig() Config {
	cfg := DefaultConfig()
	cfg.SecretKey = []byte("k")
	cfg.CacheTTL = time.Minute
	return cfg
}

func TestResultCache_PutGet(t *testing.T) {
	c := newResultCache(cacheConfig())
	now := time.Now()
	sig := sigFor("search_kb", "args-a")

	if _, ok := c.Get(sig, now); ok {
		t.Fatal("empty cache returned a hit")
	}

	c.Put(sig, ToolResult{OK: true, Payload: "hits", PayloadSig: "ps"}, now)

	res, ok := c.Get(sig, now.Add(30*time.Second))
	if !ok {
		t.Fatal("expected a cache hit within TTL")
	}
	if !res.Cached {
		t.Error("served result not marked cached")
	}
	if res.Payload != "hits" || res.PayloadSig != "ps" {
		t.Errorf("cached result mangled: %+v", res)
	}
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c := newResultCache(cacheConfig())
	now := time.Now()
	sig := sigFor("search_kb", "args-a")

	c.Put(sig, ToolResult{OK: true}, now)

	if _, ok := c.Get(sig, now.Add(2*time.Minute)); ok {
		t.Error("expired entry served from cache")
	}
	// Lazy eviction removed it; a fresh lookup still misses.
	if _, ok := c.Get(sig, now); ok {
		t.Error("expired entry survived lazy eviction")
	}
}

func TestResultCache_IdempotencyLedgerNeverExpires(t *testing.T) {
	c := newResultCache(cacheConfig())
	sig := sigFor("refund", "args-a")

	if c.Replayed(sig) {
		t.Fatal("fresh ledger reports a replay")
	}
	c.MarkExecuted(sig)

	// Ledger entries are not subject to TTL eviction.
	if !c.Replayed(sig) {
		t.Error("executed side effect not recorded in the ledger")
	}
	other := sigFor("refund", "args-b")
	if c.Replayed(other) {
		t.Error("ledger matched a different signature")
	}
}
