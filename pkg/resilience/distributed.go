package resilience

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgecore/forgecore/pkg/ferr"
)

// distributedRefill is a Lua script performing the same lazy-refill CAS
// logic as TokenBucket.TryConsume but atomically inside Redis, so a fleet
// of scheduler replicas shares one logical bucket per endpoint.
const distributedRefill = `
local key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local want = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = max_tokens
  ts = now
end

local elapsed = math.max(0, (now - ts) / 1000.0)
tokens = math.min(max_tokens, tokens + elapsed * refill_rate)

if tokens < want then
  redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
  redis.call('EXPIRE', key, 3600)
  return 0
end

tokens = tokens - want
redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', key, 3600)
return 1
`

// DistributedTokenBucket is a Redis-backed equivalent of TokenBucket for
// deployments running more than one scheduler/CAS-gateway process against
// shared remote endpoints.
type DistributedTokenBucket struct {
	rdb        *redis.Client
	keyPrefix  string
	maxTokens  int
	refillRate float64
}

func NewDistributedTokenBucket(rdb *redis.Client, keyPrefix string, maxTokens int, refillRatePerSecond float64) *DistributedTokenBucket {
	return &DistributedTokenBucket{rdb: rdb, keyPrefix: keyPrefix, maxTokens: maxTokens, refillRate: refillRatePerSecond}
}

// TryConsume admits n tokens under endpoint, shared across all processes
// pointed at the same Redis instance.
func (d *DistributedTokenBucket) TryConsume(ctx context.Context, endpoint string, n int) (bool, error) {
	key := d.keyPrefix + ":" + endpoint
	nowMs := time.Now().UnixMilli()
	res, err := d.rdb.Eval(ctx, distributedRefill, []string{key}, d.maxTokens, d.refillRate, nowMs, n).Result()
	if err != nil {
		return false, ferr.New(ferr.KindNetwork, "resilience.DistributedTokenBucket.TryConsume", endpoint, err).WithRetry()
	}
	admitted, _ := res.(int64)
	return admitted == 1, nil
}
