package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucketAllowWithinBurst(t *testing.T) {
	tb := NewTokenBucket(10, 5)
	defer tb.Close()

	for i := 0; i < 5; i++ {
		if !tb.Allow("token-a") {
			t.Fatalf("request %d within burst was denied", i)
		}
	}
}

func TestTokenBucketDenyAfterBurst(t *testing.T) {
	tb := NewTokenBucket(10, 3)
	defer tb.Close()

	for i := 0; i < 3; i++ {
		if !tb.Allow("token-a") {
			t.Fatalf("request %d within burst was denied", i)
		}
	}
	if tb.Allow("token-a") {
		t.Fatal("request beyond burst was allowed")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	tb := NewTokenBucket(10, 1)
	defer tb.Close()

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tb.now = func() time.Time { return clock }

	if !tb.Allow("k") {
		t.Fatal("first request denied")
	}
	if tb.Allow("k") {
		t.Fatal("empty bucket allowed a request")
	}

	// 100ms at 10 rps refills one token.
	clock = clock.Add(100 * time.Millisecond)
	if !tb.Allow("k") {
		t.Fatal("refilled bucket denied a request")
	}
}

func TestTokenBucketKeysIndependent(t *testing.T) {
	tb := NewTokenBucket(10, 1)
	defer tb.Close()

	if !tb.Allow("token-a") {
		t.Fatal("token-a denied")
	}
	if !tb.Allow("token-b") {
		t.Fatal("token-b shares token-a's bucket")
	}
	if tb.Allow("token-a") {
		t.Fatal("token-a bucket did not empty")
	}
}

func TestTokenBucketCapsAtBurst(t *testing.T) {
	tb := NewTokenBucket(1000, 2)
	defer tb.Close()

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tb.now = func() time.Time { return clock }

	if !tb.Allow("k") {
		t.Fatal("first request denied")
	}

	// A long idle period must not accumulate more than burst.
	clock = clock.Add(time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		if tb.Allow("k") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("expected exactly burst (2) allowed after idle, got %d", allowed)
	}
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	defer l.Close()
	for i := 0; i < 1000; i++ {
		if !l.Allow("any") {
			t.Fatal("Unlimited denied a request")
		}
	}
}
