package resilience

import (
	"sync/atomic"
	"time"
)

// TokenBucket is {tokens, max_tokens, refill_rate_per_second,
// last_refill_time} from §4.8, implemented as an atomic
// compare-and-swap loop that refills lazily based on elapsed wall time —
// no background goroutine, no lock on the admission hot path.
type TokenBucket struct {
	maxTokens  int64
	refillRate float64 // tokens per second

	// state packs tokens (scaled by tokenScale for fractional refill) and
	// the refill clock into two atomics, mutated together via a retry loop.
	tokens     atomic.Int64 // scaled fixed point
	lastRefill atomic.Int64 // unix nanos
}

const tokenScale = 1 << 16

// NewTokenBucket creates a bucket starting full.
func NewTokenBucket(maxTokens int, refillRatePerSecond float64) *TokenBucket {
	b := &TokenBucket{maxTokens: int64(maxTokens), refillRate: refillRatePerSecond}
	b.tokens.Store(int64(maxTokens) * tokenScale)
	b.lastRefill.Store(time.Now().UnixNano())
	return b
}

// TryConsume attempts to take n tokens, returning whether admitted. It is a
// CAS retry loop: refill based on elapsed time since the last successful
// refill, then attempt to subtract n, retrying on concurrent contention.
func (b *TokenBucket) TryConsume(n int) bool {
	want := int64(n) * tokenScale
	for {
		now := time.Now().UnixNano()
		last := b.lastRefill.Load()
		cur := b.tokens.Load()

		elapsed := time.Duration(now - last).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		refill := int64(elapsed * b.refillRate * tokenScale)
		maxScaled := b.maxTokens * tokenScale
		newTokens := cur + refill
		if newTokens > maxScaled {
			newTokens = maxScaled
		}

		if newTokens < want {
			// not enough even after refill; publish the refill if we can,
			// then report rejection.
			if b.lastRefill.CompareAndSwap(last, now) {
				b.tokens.Store(newTokens)
			}
			return false
		}

		remaining := newTokens - want
		if b.lastRefill.CompareAndSwap(last, now) {
			b.tokens.Store(remaining)
			return true
		}
		// lost the race with a concurrent consumer; retry against fresh state
	}
}

// Available returns the current token count (rounded down), useful for
// X-RateLimit-Remaining.
func (b *TokenBucket) Available() int {
	return int(b.tokens.Load() / tokenScale)
}

// MaxTokens returns the bucket's capacity, useful for X-RateLimit-Limit.
func (b *TokenBucket) MaxTokens() int {
	return int(b.maxTokens)
}

// RetryAfter estimates the wait until at least n tokens are available.
func (b *TokenBucket) RetryAfter(n int) time.Duration {
	avail := b.Available()
	if avail >= n {
		return 0
	}
	deficit := float64(n - avail)
	if b.refillRate <= 0 {
		return time.Hour
	}
	return time.Duration(deficit/b.refillRate*1000) * time.Millisecond
}
