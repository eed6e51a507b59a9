package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBucket_AllowAndRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewBucket(clk, 5, 5) // 5 burst, 5 tokens/sec.

	for i := 0; i < 5; i++ {
		if !b.Allow() {
			t.Fatalf("expected initial burst token %d", i)
		}
	}
	if b.Allow() {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Advance(200 * time.Millisecond) // one token at 5 tokens/sec
	if !b.Allow() {
		t.Fatalf("expected refill after time advance")
	}
	if b.Allow() {
		t.Fatalf("expected only one refilled token")
	}
}

func TestBucket_ClampsToCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewBucket(clk, 2, 2)

	clk.Advance(time.Hour)
	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("expected token %d after long idle", i)
		}
	}
	if b.Allow() {
		t.Fatalf("idle refill must clamp to capacity")
	}
}

func TestBucket_ZeroRateDisablesLimiting(t *testing.T) {
	b := NewBucket(&fakeClock{now: time.Unix(0, 0)}, 0, 0)
	for i := 0; i < 100; i++ {
		if !b.Allow() {
			t.Fatalf("zero rate must always allow")
		}
	}
}

func TestBucket_TimeGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewBucket(clk, 1, 1)

	if !b.Allow() {
		t.Fatalf("expected initial token")
	}
	clk.Advance(-time.Hour)
	if b.Allow() {
		t.Fatalf("backwards clock must not refill")
	}
}
