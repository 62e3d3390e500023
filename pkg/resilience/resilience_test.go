package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketRateLimitBackoff(t *testing.T) {
	// §8 scenario 5: max=100, rate=10/s, 150 requests in ~0s.
	b := NewTokenBucket(100, 10)
	admitted := 0
	for i := 0; i < 150; i++ {
		if b.TryConsume(1) {
			admitted++
		}
	}
	assert.Equal(t, 100, admitted)
	assert.GreaterOrEqual(t, b.RetryAfter(1).Milliseconds(), int64(0))
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	b := NewTokenBucket(1, 1000) // fast refill for a short test
	assert.True(t, b.TryConsume(1))
	assert.False(t, b.TryConsume(1))
	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.TryConsume(1))
}

func TestSlidingWindowEvictsLowerPriority(t *testing.T) {
	w := NewSlidingWindow(time.Minute, 2)
	assert.True(t, w.Admit(Normal))
	assert.True(t, w.Admit(Normal))
	// at capacity: a Low request should be rejected...
	assert.False(t, w.Admit(Low))
	// ...but a High request evicts one of the Normal records.
	assert.True(t, w.Admit(High))
}

func TestHierarchicalLimiterAllTiersMustAdmit(t *testing.T) {
	h := NewHierarchicalLimiter(1, 100, 100, 100, 100, 100)
	assert.True(t, h.Admit("1.2.3.4", "tok"))
	assert.False(t, h.Admit("1.2.3.4", "tok")) // global bucket exhausted
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow()) // half-open trial
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestAdaptiveRateControllerTracksHealth(t *testing.T) {
	a := NewAdaptiveRateController(10, 100, 0.5)
	assert.InDelta(t, 100, a.Rate(), 0.01)
	a.Observe(0)
	assert.Less(t, a.Rate(), 100.0)
	assert.Greater(t, a.Rate(), 10.0)
}

func TestDistributedTokenBucketAgainstMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	dtb := NewDistributedTokenBucket(rdb, "forgecore:ratelimit", 2, 1)
	ctx := context.Background()

	ok, err := dtb.TryConsume(ctx, "cas-primary", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dtb.TryConsume(ctx, "cas-primary", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dtb.TryConsume(ctx, "cas-primary", 1)
	require.NoError(t, err)
	assert.False(t, ok, "bucket should be exhausted on the third request")
}
