package driven

import (
	"context"
	"time"
)

// DistributedLock serializes work across docintel instances. The pipeline
// holds "upload:{address}" while it processes a content address and the
// scheduler holds one lock per enqueue cycle.
type DistributedLock interface {
	// Acquire takes the named lock for ttl. A lock held elsewhere reports
	// false with a nil error; only backend failures return an error.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops the lock if this instance holds it. Releasing an
	// expired or foreign lock is a no-op.
	Release(ctx context.Context, name string) error

	// Extend pushes the expiry of a lock this instance holds. Advisory
	// lock backends hold until release and treat this as a check.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
