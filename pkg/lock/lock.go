// Package lock provides non-blocking mutual-exclusion locks with a bounded
// expiry, keyed by string. The scheduler takes one per repeat record so that
// two workers in the same check window do not both attempt delivery. The lock
// is an optimization to avoid duplicate network calls; the storage layer's
// versioned writes remain the correctness backstop.
package lock

import (
	"context"
	"time"
)

// Locker hands out try-locks. TryLock returns ok=false without blocking when
// the key is already held. The returned release function is a no-op once the
// TTL has expired.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
