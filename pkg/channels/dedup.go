package channels

import (
	"sync"
	"time"
)

const (
	defaultDedupTTL = 10 * time.Minute
	dedupPruneEvery = 256
)

// dedupCache remembers recently seen message ids so that redeliveries after a
// reconnect are published once.
type dedupCache struct {
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
	inserts int
	mu      sync.Mutex
}

func newDedupCache(ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &dedupCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Seen records key and reports whether it was already recorded within the TTL.
func (dc *dedupCache) Seen(key string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	if ts, ok := dc.entries[key]; ok && now.Sub(ts) <= dc.ttl {
		return true
	}

	dc.entries[key] = now
	dc.inserts++
	if dc.inserts%dedupPruneEvery == 0 {
		dc.pruneLocked(now)
	}
	return false
}

// Len returns the number of tracked keys.
func (dc *dedupCache) Len() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.entries)
}

func (dc *dedupCache) pruneLocked(now time.Time) {
	for key, ts := range dc.entries {
		if now.Sub(ts) > dc.ttl {
			delete(dc.entries, key)
		}
	}
}
