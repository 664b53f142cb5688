package admission

import (
	"hash/fnv"
	"sync"
	"time"
)

const limiterShards = 16

type limiterShard struct {
	mu    sync.Mutex
	users map[string][]time.Time
}

// SlidingWindow is a per-user rolling-window admission counter: at most
// limit accepted admissions within any window. Users are partitioned across
// shards so one user's admissions never contend with another's.
type SlidingWindow struct {
	limit  int
	window time.Duration
	shards [limiterShards]*limiterShard
}

// NewSlidingWindow creates a limiter allowing limit admissions per window
// per user.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	sw := &SlidingWindow{limit: limit, window: window}
	for i := range sw.shards {
		sw.shards[i] = &limiterShard{users: make(map[string][]time.Time)}
	}
	return sw
}

func (sw *SlidingWindow) shardFor(userID string) *limiterShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return sw.shards[h.Sum32()%limiterShards]
}

// Allow reports whether the user has quota at time now, and consumes one
// slot when it does. Check and increment are a single critical section, so
// concurrent callers cannot both take the last slot.
func (sw *SlidingWindow) Allow(userID string, now time.Time) bool {
	sh := sw.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cutoff := now.Add(-sw.window)
	stamps := sh.users[userID]

	// Drop entries that have rolled out of the window.
	live := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= sw.limit {
		sh.users[userID] = live
		return false
	}

	sh.users[userID] = append(live, now)
	return true
}

// Sweep drops users whose every admission has rolled out of the window and
// returns how many users were removed. Pure liveness: Allow prunes at
// lookup time regardless.
func (sw *SlidingWindow) Sweep(now time.Time) int {
	cutoff := now.Add(-sw.window)
	removed := 0
	for _, sh := range sw.shards {
		sh.mu.Lock()
		for user, stamps := range sh.users {
			stale := true
			for _, ts := range stamps {
				if ts.After(cutoff) {
					stale = false
					break
				}
			}
			if stale {
				delete(sh.users, user)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
