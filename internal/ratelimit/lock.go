package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const lockRefreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var (
	// ErrLockHeld is returned when another process owns the lock.
	ErrLockHeld = errors.New("lock_held")
	// ErrLockLost is returned by Refresh once the lock expired or was taken over.
	ErrLockLost = errors.New("lock_lost")
)

// Locker is a single-key redis mutex. A nil *Locker runs every critical
// section unguarded, which is correct for single-instance deployments.
type Locker struct {
	client  *redis.Client
	script  *redis.Script
	refresh *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		script:  redis.NewScript(lockReleaseScript),
		refresh: redis.NewScript(lockRefreshScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes key only while it still holds token.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// Lease is a held lock that long critical sections renew as they progress.
// A nil *Lease stands for an unguarded section; its methods are no-ops.
type Lease struct {
	locker *Locker
	key    string
	token  string
	ttl    time.Duration
}

// Acquire takes key for ttl. It returns ErrLockHeld when the lock is taken and
// a nil Lease when no redis client is configured.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, nil
	}
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{locker: l, key: key, token: token, ttl: ttl}, nil
}

// Refresh pushes the expiry a full ttl out. It returns ErrLockLost when the
// lease no longer owns the key.
func (le *Lease) Refresh(ctx context.Context) error {
	if le == nil {
		return nil
	}
	n, err := le.locker.refresh.Run(ctx, le.locker.client, []string{le.key}, le.token, le.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	return le.locker.Release(ctx, le.key, le.token)
}

// WithLease runs fn holding a renewable lease on key. It returns ErrLockHeld
// without calling fn when the lock is taken.
func (l *Locker) WithLease(ctx context.Context, key string, ttl time.Duration, fn func(context.Context, *Lease) error) error {
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = lease.Release(releaseCtx)
	}()
	return fn(ctx, lease)
}

// WithLock runs fn while holding key. It returns ErrLockHeld without calling
// fn when the lock is taken.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	return l.WithLease(ctx, key, ttl, func(ctx context.Context, _ *Lease) error {
		return fn(ctx)
	})
}
