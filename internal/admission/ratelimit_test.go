package admission

import (
	"sync"
	"testing"
	"time"
)

func TestSlidingWindowScenario(t *testing.T) {
	// K=2 per 60s window; three requests within 10 seconds.
	sw := NewSlidingWindow(2, time.Minute)
	base := time.Unix(1_700_000_000, 0)

	if !sw.Allow("u1", base) {
		t.Error("first admission rejected, want allowed")
	}
	if !sw.Allow("u1", base.Add(5*time.Second)) {
		t.Error("second admission rejected, want allowed")
	}
	if sw.Allow("u1", base.Add(10*time.Second)) {
		t.Error("third admission allowed, want rejected (window exhausted)")
	}

	// After 61 seconds the window has rolled over.
	if !sw.Allow("u1", base.Add(61*time.Second)) {
		t.Error("admission after window rollover rejected, want allowed")
	}
}

func TestSlidingWindowRolling(t *testing.T) {
	// The window is rolling, not bucketed: a slot frees exactly when its
	// admission ages out.
	sw := NewSlidingWindow(2, time.Minute)
	base := time.Unix(1_700_000_000, 0)

	sw.Allow("u1", base)
	sw.Allow("u1", base.Add(30*time.Second))

	if sw.Allow("u1", base.Add(59*time.Second)) {
		t.Error("admission at t+59s allowed, want rejected")
	}
	if !sw.Allow("u1", base.Add(61*time.Second)) {
		t.Error("admission at t+61s rejected, want allowed (first slot aged out)")
	}
	if sw.Allow("u1", base.Add(62*time.Second)) {
		t.Error("admission at t+62s allowed, want rejected (second slot still live)")
	}
}

func TestSlidingWindowPerUserIsolation(t *testing.T) {
	sw := NewSlidingWindow(1, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if !sw.Allow("u1", now) {
		t.Error("u1 first admission rejected")
	}
	if !sw.Allow("u2", now) {
		t.Error("u2 should have its own quota")
	}
	if sw.Allow("u1", now) {
		t.Error("u1 second admission allowed, want rejected")
	}
}

func TestSlidingWindowConcurrent(t *testing.T) {
	// 16 goroutines race for 4 slots: exactly 4 may win.
	sw := NewSlidingWindow(4, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	var wg sync.WaitGroup
	results := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- sw.Allow("u1", now)
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	if allowed != 4 {
		t.Errorf("%d concurrent admissions allowed, want exactly 4", allowed)
	}
}

func TestSlidingWindowSweep(t *testing.T) {
	sw := NewSlidingWindow(2, time.Minute)
	base := time.Unix(1_700_000_000, 0)

	sw.Allow("stale", base)
	sw.Allow("fresh", base.Add(50*time.Second))

	removed := sw.Sweep(base.Add(70 * time.Second))
	if removed != 1 {
		t.Errorf("Sweep removed %d users, want 1", removed)
	}

	// Sweep is liveness only: quota for the fresh user is unaffected.
	if !sw.Allow("fresh", base.Add(71*time.Second)) {
		t.Error("fresh user rejected after sweep, want allowed")
	}
}
