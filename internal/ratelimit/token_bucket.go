package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Remaining tokens travel as integer milli-tokens so the script reply stays
// a flat integer array.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
local retry = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens * 1000), retry}
`

// Limit refills Rate tokens per second up to Burst.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) validate() error {
	if l.Rate <= 0 || l.Burst <= 0 {
		return errors.New("rate limit rate and burst must be positive")
	}
	return nil
}

// idleTTL keeps a bucket long enough to refill twice from empty.
func (l Limit) idleTTL() time.Duration {
	if l.validate() != nil {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(2*float64(l.Burst)/l.Rate))
	return time.Duration(seconds) * time.Second
}

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Take removes one token from the bucket at key.
func (t *TokenBucket) Take(ctx context.Context, key string, limit Limit) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return nil, errors.New("rate limiter not configured")
	}
	if key == "" {
		return nil, errors.New("rate limiter key is empty")
	}
	if err := limit.validate(); err != nil {
		return nil, err
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		limit.Rate, limit.Burst, limit.idleTTL().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("token bucket: unexpected reply length %d", len(reply))
	}
	return newResult(limit, reply[0] == 1, reply[1], reply[2]), nil
}

func newResult(limit Limit, allowed bool, milliTokens, retryMillis int64) *RateLimitResult {
	res := &RateLimitResult{
		Allowed:   allowed,
		Limit:     limit.Burst,
		Remaining: int(milliTokens / 1000),
	}
	if !allowed {
		res.RetryAfter = time.Duration(retryMillis) * time.Millisecond
	}
	return res
}
