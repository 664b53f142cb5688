package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"tradekeeper/internal/domain"
)

// Compile-time interface checks.
var _ KV = (*MemoryStore)(nil)
var _ AttemptStore = (*MemoryStore)(nil)

const memoryShards = 16

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// MemoryStore is the in-process KV and attempt store. Keys are partitioned
// across shards so concurrent admissions for different fingerprints never
// contend on one lock. It is the fail-closed fallback when SQLite is absent
// or erroring: dedup guarantees survive within the running process.
type MemoryStore struct {
	shards [memoryShards]*memoryShard

	attemptsMu sync.Mutex
	attempts   map[string][]domain.Attempt // userID -> chronological attempts
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		attempts: make(map[string][]domain.Attempt),
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%memoryShards]
}

// Get returns the live value for key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || !e.expiresAt.After(time.Now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

// PutIfAbsent inserts key if no live entry exists. An expired entry counts as
// absent and is overwritten.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := time.Now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[key]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	sh.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

// Delete removes key regardless of expiry.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

// Sweep removes expired entries across all shards.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := time.Now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if !e.expiresAt.After(now) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// SaveAttempt appends one attempt record.
func (s *MemoryStore) SaveAttempt(_ context.Context, attempt domain.Attempt) error {
	s.attemptsMu.Lock()
	s.attempts[attempt.UserID] = append(s.attempts[attempt.UserID], attempt)
	s.attemptsMu.Unlock()
	return nil
}

// ListAttempts returns the most recent attempts for a user, newest first.
func (s *MemoryStore) ListAttempts(_ context.Context, userID string, limit int) ([]domain.Attempt, error) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()

	records := s.attempts[userID]
	out := make([]domain.Attempt, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneAttempts removes attempts submitted before cutoff.
func (s *MemoryStore) PruneAttempts(_ context.Context, cutoff time.Time) (int, error) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()

	removed := 0
	for user, records := range s.attempts {
		kept := records[:0]
		for _, a := range records {
			if a.SubmittedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) == 0 {
			delete(s.attempts, user)
		} else {
			s.attempts[user] = kept
		}
	}
	return removed, nil
}
