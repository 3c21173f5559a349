package detector

import (
	"sync"
	"time"
)

// DedupCache remembers which transaction hashes have already been handled so
// a trade is never copied twice, no matter how often it reappears in the
// activity feed. Entries expire after a TTL and the cache is capped so a
// noisy trader cannot grow it without bound. Safe for concurrent use.
type DedupCache struct {
	mu          sync.Mutex
	seen        map[string]time.Time // txID -> marked time
	ttl         time.Duration
	maxEntries  int
	minEvictAge time.Duration
}

// NewDedupCache creates a DedupCache. The TTL must comfortably exceed the
// feed's lookback depth (config validation enforces at least 10x the poll
// interval); maxEntries caps memory. minEvictAge is the age below which cap
// eviction never touches an entry: a transaction the feed can still serve as
// dispatchable must stay marked, or it would be copied twice.
func NewDedupCache(ttl time.Duration, maxEntries int, minEvictAge time.Duration) *DedupCache {
	return &DedupCache{
		seen:        make(map[string]time.Time),
		ttl:         ttl,
		maxEntries:  maxEntries,
		minEvictAge: minEvictAge,
	}
}

// Seen reports whether the transaction has been marked within the TTL.
func (d *DedupCache) Seen(txID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	marked, ok := d.seen[txID]
	return ok && now.Sub(marked) < d.ttl
}

// Mark records the transaction. Marking is separate from Seen because stale
// and skipped signals are marked too; anything the detector has looked at is
// done, whatever the pipeline decided.
func (d *DedupCache) Mark(txID string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[txID] = now
}

// Sweep drops expired entries, and when the cache is still above its cap it
// drops the oldest entries until back under. Entries younger than minEvictAge
// are never cap-evicted, even if the cache stays over its cap for a while;
// the overshoot is bounded because entries age out. Called once per poll
// tick.
func (d *DedupCache) Sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}

	for len(d.seen) > d.maxEntries {
		oldestID := ""
		var oldestTS time.Time
		for id, ts := range d.seen {
			if oldestID == "" || ts.Before(oldestTS) {
				oldestID, oldestTS = id, ts
			}
		}
		if now.Sub(oldestTS) < d.minEvictAge {
			return
		}
		delete(d.seen, oldestID)
	}
}

// Len returns the current number of tracked transactions.
func (d *DedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
