package core

import (
	"sync"
	"time"
)

// tokenBucket is a classic leaky-bucket limiter: capacity tokens refill at
// refillPerSecond, and a request consumes one token or is refused.
type tokenBucket struct {
	capacity         float64
	refillPerSecond  float64
	tokens           float64
	lastRefill       time.Time
}

func newTokenBucket(capacity, refillPerSecond float64, now time.Time) *tokenBucket {
	return &tokenBucket{capacity: capacity, refillPerSecond: refillPerSecond, tokens: capacity, lastRefill: now}
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillPerSecond
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter enforces two independent ingress boundaries (spec §5): one
// token bucket per source IP guarding the network listener, and one per
// transaction sender guarding mempool submission. Adapted from the
// teacher's firewall.go block-list pattern, replaced here with a
// refillable counter since LogiChain rate-limits by volume rather than by
// an allow/deny list.
type RateLimiter struct {
	mu sync.Mutex

	ipCapacity     float64
	ipRefillPerSec float64
	ipBuckets      map[string]*tokenBucket

	senderCapacity     float64
	senderRefillPerSec float64
	senderBuckets      map[string]*tokenBucket

	nowFunc func() time.Time
}

// NewRateLimiter constructs a limiter with the given per-IP and per-sender
// bucket parameters.
func NewRateLimiter(ipCapacity, ipRefillPerSec, senderCapacity, senderRefillPerSec float64) *RateLimiter {
	return &RateLimiter{
		ipCapacity:         ipCapacity,
		ipRefillPerSec:     ipRefillPerSec,
		ipBuckets:          make(map[string]*tokenBucket),
		senderCapacity:     senderCapacity,
		senderRefillPerSec: senderRefillPerSec,
		senderBuckets:      make(map[string]*tokenBucket),
		nowFunc:            time.Now,
	}
}

// AllowIP reports whether ip may submit another ingress request right now.
func (rl *RateLimiter) AllowIP(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.nowFunc()
	b, ok := rl.ipBuckets[ip]
	if !ok {
		b = newTokenBucket(rl.ipCapacity, rl.ipRefillPerSec, now)
		rl.ipBuckets[ip] = b
	}
	return b.allow(now)
}

// AllowSender reports whether sender may submit another mempool
// transaction right now.
func (rl *RateLimiter) AllowSender(sender string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.nowFunc()
	b, ok := rl.senderBuckets[sender]
	if !ok {
		b = newTokenBucket(rl.senderCapacity, rl.senderRefillPerSec, now)
		rl.senderBuckets[sender] = b
	}
	return b.allow(now)
}

// CheckIP returns a RateLimited error if ip has exhausted its bucket.
func (rl *RateLimiter) CheckIP(ip string) error {
	if rl.AllowIP(ip) {
		return nil
	}
	return NewError(KindRateLimited, "ip rate limit exceeded").WithContext("ip", ip)
}

// CheckSender returns a RateLimited error if sender has exhausted its
// bucket.
func (rl *RateLimiter) CheckSender(sender string) error {
	if rl.AllowSender(sender) {
		return nil
	}
	return NewError(KindRateLimited, "sender rate limit exceeded").WithContext("sender", sender)
}
