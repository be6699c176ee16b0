package ratelimiter

import (
	"context"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond float64
		burst             int
		unlimited         bool
	}{
		{name: "standard rate", requestsPerSecond: 100, burst: 200},
		{name: "low rate", requestsPerSecond: 1, burst: 2},
		{name: "zero burst raised", requestsPerSecond: 5, burst: 0},
		{name: "unlimited (zero rate)", requestsPerSecond: 0, burst: 0, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an unusable limiter")
			}
			if limiter.Unlimited() != tt.unlimited {
				t.Errorf("Unlimited() = %v, want %v", limiter.Unlimited(), tt.unlimited)
			}
		})
	}
}

// TestAllow verifies that Allow() enforces the burst.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow() {
		t.Error("request beyond burst should be rejected")
	}
}

func TestWaitContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Error("Wait() should fail when the context expires before a token is available")
	}
}

func TestUnlimitedRate(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		if !limiter.Allow() {
			t.Fatalf("unlimited limiter rejected request %d", i)
		}
	}
	if err := limiter.Wait(context.Background()); err != nil {
		t.Errorf("Wait() on unlimited limiter returned %v", err)
	}
}

func TestGroup_IndependentKeys(t *testing.T) {
	group := NewGroup(1, 1)

	if !group.Get("a").Allow() {
		t.Fatal("first request for a should be allowed")
	}
	if group.Get("a").Allow() {
		t.Error("second request for a should be throttled")
	}
	if !group.Get("b").Allow() {
		t.Error("b must not share a's bucket")
	}
	if group.Len() != 2 {
		t.Errorf("Len() = %d, want 2", group.Len())
	}
}

func TestGroup_Forget(t *testing.T) {
	group := NewGroup(1, 1)
	group.Get("a").Allow()

	group.Forget("a")
	if group.Len() != 0 {
		t.Errorf("Len() = %d after Forget, want 0", group.Len())
	}
	if !group.Get("a").Allow() {
		t.Error("a forgotten key should start with a full bucket")
	}
}

func BenchmarkAllow(b *testing.B) {
	limiter := New(0, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}
