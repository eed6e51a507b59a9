// Package ratelimit provides a deterministic token bucket used to cap
// per-connection signaling message rates.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time so tests can drive the bucket deterministically.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// nanoTokens is the fixed-point representation: one token is 1e9 nano-tokens,
// so a fill rate of X tokens/sec adds X nano-tokens per elapsed nanosecond.
// This avoids float rounding drift over long-lived connections.
const nanoTokensPerToken int64 = int64(time.Second)

// Bucket refills at an integer rate (tokens/sec) up to a burst capacity.
// A rate <= 0 disables limiting: Allow always succeeds.
type Bucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewBucket(clock Clock, capacity, rate int64) *Bucket {
	if clock == nil {
		clock = RealClock{}
	}
	return &Bucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: capacity * nanoTokensPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *Bucket) Allow() bool {
	if b.rate <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < nanoTokensPerToken {
		return false
	}
	b.available -= nanoTokensPerToken
	return true
}

func (b *Bucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; move the reference point without refilling.
		b.last = now
		return
	}

	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	capNano := b.capacity * nanoTokensPerToken
	if b.available >= capNano {
		return
	}

	// rate tokens/sec equals rate nano-tokens per nanosecond. Clamp before
	// multiplying so a long idle period cannot overflow.
	need := capNano - b.available
	if elapsed >= need/b.rate {
		b.available = capNano
		return
	}
	b.available += elapsed * b.rate
}
