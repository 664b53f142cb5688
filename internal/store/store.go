// Package store defines the keyed TTL storage used by admission control
// (fingerprint records and the admission audit trail), with a durable SQLite
// implementation and an in-process fallback.
package store

import (
	"context"
	"time"

	"tradekeeper/internal/domain"
)

// KV is a keyed store with bounded-lifetime entries. Expired entries are
// treated as absent at lookup time; Sweep only reclaims space.
type KV interface {
	// Get returns the live value for key. The second return value is false
	// when the key is absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// PutIfAbsent atomically inserts key with the given TTL if no live entry
	// exists. It returns true when the insert won, false when a live entry
	// was already present. This is the check-and-set primitive admission
	// relies on: two concurrent calls for the same key see exactly one true.
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key regardless of expiry.
	Delete(ctx context.Context, key string) error

	// Sweep removes expired entries and returns how many were reclaimed.
	Sweep(ctx context.Context) (int, error)
}

// AttemptStore records immutable admission attempts for audit.
type AttemptStore interface {
	// SaveAttempt appends one attempt record.
	SaveAttempt(ctx context.Context, attempt domain.Attempt) error

	// ListAttempts returns the most recent attempts for a user, newest first,
	// up to limit.
	ListAttempts(ctx context.Context, userID string, limit int) ([]domain.Attempt, error)

	// PruneAttempts removes attempts submitted before cutoff and returns how
	// many were removed.
	PruneAttempts(ctx context.Context, cutoff time.Time) (int, error)
}
