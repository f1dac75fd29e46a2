package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/referrals/internal/config"
)

const keyAttributeIdentity = "referrals:attribute:identity:%s"

// AttributeLimiter throttles attribution calls per identity. A nil limiter
// allows everything.
type AttributeLimiter struct {
	bucket *TokenBucket
	limit  Limit
}

func NewAttributeLimiter(cfg config.Config, client *redis.Client) (*AttributeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	limit := Limit{Rate: limitCfg.AttributeRate, Burst: limitCfg.AttributeBurst}
	if err := limit.validate(); err != nil {
		return nil, fmt.Errorf("attribute limit: %w", err)
	}
	return &AttributeLimiter{bucket: NewTokenBucket(client), limit: limit}, nil
}

func (l *AttributeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *AttributeLimiter) Allow(ctx context.Context, identityID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyAttributeIdentity, strings.TrimSpace(identityID))
	return l.bucket.Take(ctx, key, l.limit)
}
