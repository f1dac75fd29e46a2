package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/referrals/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerRunsCriticalSection(t *testing.T) {
	var l *Locker
	called := false
	err := l.WithLock(context.Background(), "payout:usd", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	boom := errors.New("boom")
	assert.ErrorIs(t, l.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return boom }), boom)
	assert.NoError(t, l.Release(context.Background(), "k", "token"))
}

func TestNilLockerLeaseIsUnguarded(t *testing.T) {
	var l *Locker
	lease, err := l.Acquire(context.Background(), "outbox", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, lease)
	assert.NoError(t, lease.Refresh(context.Background()))
	assert.NoError(t, lease.Release(context.Background()))

	refreshed := 0
	err = l.WithLease(context.Background(), "outbox", time.Minute, func(ctx context.Context, lease *Lease) error {
		for i := 0; i < 3; i++ {
			if err := lease.Refresh(ctx); err != nil {
				return err
			}
			refreshed++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, refreshed)
}

func TestNilLimiterAllows(t *testing.T) {
	var l *AttributeLimiter
	res, err := l.Allow(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNewAttributeLimiterDisabled(t *testing.T) {
	l, err := NewAttributeLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = NewAttributeLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}, nil)
	assert.Error(t, err)
}

func TestNewResult(t *testing.T) {
	limit := Limit{Rate: 2, Burst: 10}

	res := newResult(limit, false, 500, 250)
	assert.False(t, res.Allowed)
	assert.Equal(t, 250*time.Millisecond, res.RetryAfter)
	assert.Equal(t, 10, res.Limit)
	assert.Zero(t, res.Remaining)

	res = newResult(limit, true, 3700, 0)
	assert.Equal(t, 3, res.Remaining)
	assert.Zero(t, res.RetryAfter)
}

func TestLimitIdleTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, Limit{Rate: 1, Burst: 10}.idleTTL())
	assert.Equal(t, time.Second, Limit{Rate: 100, Burst: 1}.idleTTL())
	assert.Equal(t, time.Second, Limit{Burst: 10}.idleTTL())
	assert.Error(t, Limit{Rate: 1}.validate())
}

func TestNilTokenBucket(t *testing.T) {
	var b *TokenBucket
	_, err := b.Take(context.Background(), "k", Limit{Rate: 1, Burst: 1})
	assert.Error(t, err)
}
