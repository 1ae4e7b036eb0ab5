// Package cache fronts upstream reads with a TTL-keyed store. The cache is a
// best-effort accelerator: callers must behave correctly, just slower, when
// it is absent or unreachable.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is an immutable cached value. A write is always insert-or-replace,
// never in-place mutation.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Store is the backing key-value contract. Lookup reports a miss via the
// boolean, never via the error: expired entries behave identically to absent
// ones and are dropped lazily on read. Implementations must be safe for
// concurrent use; per-key operations are atomic but there are no cross-key
// guarantees.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
