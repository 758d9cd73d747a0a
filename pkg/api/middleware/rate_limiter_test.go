package middleware

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})

	for i := 0; i < 5; i++ {
		if !rl.Allow("client-a") {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if rl.Allow("client-a") {
		t.Error("request beyond burst should be denied")
	}
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerMinute: 60,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})

	if !rl.Allow("client-a") {
		t.Fatal("first request for client-a should pass")
	}
	if rl.Allow("client-a") {
		t.Error("second request for client-a should be denied")
	}
	if !rl.Allow("client-b") {
		t.Error("client-b must not be affected by client-a's bucket")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerMinute: 6000, // 100 tokens/sec for a fast test
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})

	if !rl.Allow("client-a") {
		t.Fatal("first request should pass")
	}
	if rl.Allow("client-a") {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)

	if !rl.Allow("client-a") {
		t.Error("bucket should have refilled")
	}
}
