package kvstore

import (
	"context"
	"time"
)

// Store is a key-value store with per-entry TTL semantics. Implementations
// must be safe for concurrent use. A single-instance deployment runs on the
// in-process store; multi-instance deployments point at redis so cached
// entries and short-lived codes are shared.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
