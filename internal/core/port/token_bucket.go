package port

import (
	"context"
	"time"
)

// BucketDecision reports the outcome of one token-bucket consumption.
type BucketDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// TokenBucketStore consumes from a lazily refilled token bucket. The entire
// read-refill-consume cycle must execute as one atomic server-side operation so
// concurrent consumers of the same key never observe stale counts.
type TokenBucketStore interface {
	Take(ctx context.Context, key string, cost, maxTokens int, refillInterval time.Duration) (BucketDecision, error)
}
