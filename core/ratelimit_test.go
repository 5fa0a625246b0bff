package core

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsWithinCapacity(t *testing.T) {
	rl := NewRateLimiter(3, 1, 3, 1)
	fixedNow := time.Unix(1_700_000_000, 0)
	rl.nowFunc = func() time.Time { return fixedNow }

	for i := 0; i < 3; i++ {
		if !rl.AllowIP("1.2.3.4") {
			t.Fatalf("expected request %d to be allowed within capacity", i)
		}
	}
	if rl.AllowIP("1.2.3.4") {
		t.Fatalf("expected 4th request to be refused once capacity is exhausted")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1, 1)
	start := time.Unix(1_700_000_000, 0)
	rl.nowFunc = func() time.Time { return start }

	if !rl.AllowIP("1.2.3.4") {
		t.Fatalf("expected first request to be allowed")
	}
	if rl.AllowIP("1.2.3.4") {
		t.Fatalf("expected immediate second request to be refused")
	}

	rl.nowFunc = func() time.Time { return start.Add(2 * time.Second) }
	if !rl.AllowIP("1.2.3.4") {
		t.Fatalf("expected request to be allowed after refill window elapses")
	}
}

func TestRateLimiterIndependentBucketsPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 0, 1, 0)
	fixedNow := time.Unix(1_700_000_000, 0)
	rl.nowFunc = func() time.Time { return fixedNow }

	if !rl.AllowIP("a") || !rl.AllowIP("b") {
		t.Fatalf("expected distinct IPs to have independent buckets")
	}
	if rl.AllowIP("a") {
		t.Fatalf("expected bucket 'a' to already be exhausted")
	}
}

func TestRateLimiterCheckIPReturnsRateLimited(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 0)
	if err := rl.CheckIP("1.2.3.4"); KindOf(err) != KindRateLimited {
		t.Fatalf("expected RateLimited from a zero-capacity bucket, got %v", err)
	}
}

func TestRateLimiterCheckSenderReturnsRateLimited(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 0)
	if err := rl.CheckSender("LGCsender"); KindOf(err) != KindRateLimited {
		t.Fatalf("expected RateLimited from a zero-capacity sender bucket, got %v", err)
	}
}
