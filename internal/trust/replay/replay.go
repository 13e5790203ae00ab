// Package replay tracks possession-proof identifiers (jti) that have already
// been presented, so a captured proof cannot be replayed inside its validity
// window. Whether replay tracking runs at all — and whether the seen-set is
// process-local or shared — is an explicit deployment choice; see the
// replay_mode configuration.
package replay

import (
	"context"
	"sync"
	"time"
)

// Cache is a seen-set with per-entry TTL. Entries only need to live as long
// as the proof horizon: once the proof itself has expired, replaying it
// fails on the expiry check anyway.
type Cache interface {
	// MarkSeen records the identifier and reports whether this was its first
	// sighting. A second sighting within the TTL means replay.
	MarkSeen(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// MemoryCache is a process-local seen-set. Sufficient for single-instance
// deployments; multiple instances need the redis backend, since a proof
// replayed against a different instance would not be in this map.
type MemoryCache struct {
	mu   sync.Mutex
	seen map[string]time.Time // jti -> entry expiry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{seen: make(map[string]time.Time)}
}

func (c *MemoryCache) MarkSeen(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if exp, ok := c.seen[jti]; ok && now.Before(exp) {
		return false, nil
	}

	c.seen[jti] = now.Add(ttl)
	c.maybePurge(now)
	return true, nil
}

// maybePurge drops expired entries once the map has grown past a threshold.
// Amortized over inserts, so no background goroutine is needed.
func (c *MemoryCache) maybePurge(now time.Time) {
	const purgeThreshold = 4096
	if len(c.seen) < purgeThreshold {
		return
	}
	for jti, exp := range c.seen {
		if !now.Before(exp) {
			delete(c.seen, jti)
		}
	}
}
