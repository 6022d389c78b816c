package scheduler

import (
	"sync"
	"time"
)

// Guard is the advisory process-wide run flag preventing overlapping
// import runs. A safety TTL self-heals the flag if a run crashed
// without releasing it; only one scheduler process is assumed, so the
// lock is advisory rather than distributed.
type Guard struct {
	mu         sync.Mutex
	held       bool
	acquiredAt time.Time
	ttl        time.Duration
}

// DefaultGuardTTL is the safety TTL after which a stale flag self-heals.
const DefaultGuardTTL = time.Hour

// NewGuard creates a Guard with the given safety TTL.
// Parameters:
//   - ttl: stale-flag TTL; non-positive uses DefaultGuardTTL.
// Returns:
//   - *Guard: initialized guard.
func NewGuard(ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &Guard{ttl: ttl}
}

// TryAcquire sets the flag if it is clear (or stale) and reports
// whether the caller may proceed.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held && time.Since(g.acquiredAt) < g.ttl {
		return false
	}
	g.held = true
	g.acquiredAt = time.Now()
	return true
}

// Release clears the flag. Callers release in a defer so the flag is
// cleared regardless of success, failure or panic.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false
}

// Held reports whether a run currently holds the flag (TTL-aware).
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held && time.Since(g.acquiredAt) < g.ttl
}
