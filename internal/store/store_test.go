package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradekeeper/internal/domain"
)

// both KV implementations must satisfy the same contract.
func kvImpls(t *testing.T) map[string]KV {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tradekeeper.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]KV{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestKVPutIfAbsentGet(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImpls(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := kv.PutIfAbsent(ctx, "fp-1", "accepted", time.Minute)
			if err != nil {
				t.Fatalf("PutIfAbsent returned error: %v", err)
			}
			if !ok {
				t.Fatal("first PutIfAbsent = false, want true")
			}

			ok, err = kv.PutIfAbsent(ctx, "fp-1", "accepted", time.Minute)
			if err != nil {
				t.Fatalf("second PutIfAbsent returned error: %v", err)
			}
			if ok {
				t.Error("second PutIfAbsent = true, want false (live duplicate)")
			}

			v, found, err := kv.Get(ctx, "fp-1")
			if err != nil {
				t.Fatalf("Get returned error: %v", err)
			}
			if !found || v != "accepted" {
				t.Errorf("Get = (%q, %v), want (%q, true)", v, found, "accepted")
			}
		})
	}
}

func TestKVExpiry(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImpls(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := kv.PutIfAbsent(ctx, "fp-exp", "x", 20*time.Millisecond); err != nil {
				t.Fatalf("PutIfAbsent returned error: %v", err)
			}

			time.Sleep(40 * time.Millisecond)

			// Expired entries are absent at lookup time even without a sweep.
			if _, found, _ := kv.Get(ctx, "fp-exp"); found {
				t.Error("Get found expired entry, want miss")
			}

			// And an expired entry does not block re-insertion.
			ok, err := kv.PutIfAbsent(ctx, "fp-exp", "y", time.Minute)
			if err != nil {
				t.Fatalf("re-insert returned error: %v", err)
			}
			if !ok {
				t.Error("PutIfAbsent over expired entry = false, want true")
			}
		})
	}
}

func TestKVDelete(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImpls(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := kv.PutIfAbsent(ctx, "fp-del", "x", time.Minute); err != nil {
				t.Fatalf("PutIfAbsent returned error: %v", err)
			}
			if err := kv.Delete(ctx, "fp-del"); err != nil {
				t.Fatalf("Delete returned error: %v", err)
			}

			ok, err := kv.PutIfAbsent(ctx, "fp-del", "y", time.Minute)
			if err != nil {
				t.Fatalf("PutIfAbsent returned error: %v", err)
			}
			if !ok {
				t.Error("PutIfAbsent after Delete = false, want true")
			}
		})
	}
}

func TestKVSweep(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImpls(t) {
		t.Run(name, func(t *testing.T) {
			kv.PutIfAbsent(ctx, "live", "x", time.Minute)
			kv.PutIfAbsent(ctx, "dead-1", "x", 10*time.Millisecond)
			kv.PutIfAbsent(ctx, "dead-2", "x", 10*time.Millisecond)

			time.Sleep(30 * time.Millisecond)

			removed, err := kv.Sweep(ctx)
			if err != nil {
				t.Fatalf("Sweep returned error: %v", err)
			}
			if removed != 2 {
				t.Errorf("Sweep removed %d entries, want 2", removed)
			}
			if _, found, _ := kv.Get(ctx, "live"); !found {
				t.Error("Sweep removed a live entry")
			}
		})
	}
}

// Concurrent inserts for one key must resolve to exactly one winner.
func TestKVPutIfAbsentConcurrent(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvImpls(t) {
		t.Run(name, func(t *testing.T) {
			const goroutines = 16
			var wg sync.WaitGroup
			wins := make(chan bool, goroutines)

			for i := 0; i < goroutines; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := kv.PutIfAbsent(ctx, "fp-race", "x", time.Minute)
					if err != nil {
						t.Errorf("PutIfAbsent returned error: %v", err)
						return
					}
					wins <- ok
				}()
			}
			wg.Wait()
			close(wins)

			winners := 0
			for ok := range wins {
				if ok {
					winners++
				}
			}
			if winners != 1 {
				t.Errorf("%d concurrent PutIfAbsent calls won, want exactly 1", winners)
			}
		})
	}
}

func attemptImpls(t *testing.T) map[string]AttemptStore {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tradekeeper.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]AttemptStore{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestAttemptsSaveListPrune(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for name, as := range attemptImpls(t) {
		t.Run(name, func(t *testing.T) {
			records := []domain.Attempt{
				{Fingerprint: "fp-a", UserID: "u1", Symbol: "AAPL", Outcome: domain.OutcomeAccepted, SubmittedAt: base},
				{Fingerprint: "fp-b", UserID: "u1", Symbol: "AAPL", Outcome: domain.OutcomeDuplicate, SubmittedAt: base.Add(time.Minute)},
				{Fingerprint: "fp-c", UserID: "u1", Symbol: "TSLA", Outcome: domain.OutcomeRateLimited, SubmittedAt: base.Add(2 * time.Minute)},
				{Fingerprint: "fp-d", UserID: "u2", Symbol: "MSFT", Outcome: domain.OutcomeAccepted, SubmittedAt: base.Add(3 * time.Minute)},
			}
			for _, a := range records {
				if err := as.SaveAttempt(ctx, a); err != nil {
					t.Fatalf("SaveAttempt returned error: %v", err)
				}
			}

			got, err := as.ListAttempts(ctx, "u1", 2)
			if err != nil {
				t.Fatalf("ListAttempts returned error: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("ListAttempts returned %d records, want 2", len(got))
			}
			if got[0].Fingerprint != "fp-c" || got[1].Fingerprint != "fp-b" {
				t.Errorf("ListAttempts order = [%s %s], want [fp-c fp-b] (newest first)",
					got[0].Fingerprint, got[1].Fingerprint)
			}

			removed, err := as.PruneAttempts(ctx, base.Add(90*time.Second))
			if err != nil {
				t.Fatalf("PruneAttempts returned error: %v", err)
			}
			if removed != 2 {
				t.Errorf("PruneAttempts removed %d, want 2", removed)
			}

			got, err = as.ListAttempts(ctx, "u1", 0)
			if err != nil {
				t.Fatalf("ListAttempts returned error: %v", err)
			}
			if len(got) != 1 || got[0].Fingerprint != "fp-c" {
				t.Errorf("after prune, u1 attempts = %v, want only fp-c", got)
			}
		})
	}
}
