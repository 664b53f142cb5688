package util

import (
	"context"
	"sync"
	"time"
)

// Pacer is a token-bucket throttle for outbound broker calls. The broker
// enforces its own rate limits; pacing on our side keeps reconciliation from
// tripping them.
type Pacer struct {
	rate     float64 // tokens per second
	tokens   float64
	lastTime time.Time
	mu       sync.Mutex
}

// NewPacer creates a Pacer that allows perMinute operations per minute.
func NewPacer(perMinute int) *Pacer {
	return &Pacer{
		rate:     float64(perMinute) / 60.0,
		tokens:   1, // start with one token available
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(p.lastTime).Seconds()
		p.tokens += elapsed * p.rate
		if p.tokens > 1 {
			p.tokens = 1
		}
		p.lastTime = now

		if p.tokens >= 1 {
			p.tokens -= 1
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
