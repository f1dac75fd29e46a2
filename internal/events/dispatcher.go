package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	"github.com/smallbiznis/referrals/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	workerName      = "outbox"
	dispatchLockKey = "referrals:outbox:dispatch"
	maxBackoff      = 10 * time.Minute
)

// HandlerFunc consumes one outbox record. Returning an error schedules a retry.
type HandlerFunc func(ctx context.Context, rec Record) error

type DispatcherParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	Locker  *ratelimit.Locker         `optional:"true"`
	Metrics *obsmetrics.WorkerMetrics `optional:"true"`
}

// Dispatcher delivers committed outbox records to subscribed handlers.
type Dispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	cfg     config.OutboxConfig
	locker  *ratelimit.Locker
	metrics *obsmetrics.WorkerMetrics

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	cfg := p.Config.Outbox
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	cfg.LockTTL = dispatchLockTTL(cfg)
	return &Dispatcher{
		db:       p.DB,
		log:      p.Log.Named("outbox.dispatcher"),
		clock:    p.Clock,
		cfg:      cfg,
		locker:   p.Locker,
		metrics:  p.Metrics,
		handlers: map[string][]HandlerFunc{},
	}
}

func (d *Dispatcher) Subscribe(eventType string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// RunOnce dispatches one batch and returns how many records were delivered.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	delivered := 0
	err := d.locker.WithLease(ctx, dispatchLockKey, d.cfg.LockTTL, func(ctx context.Context, lease *ratelimit.Lease) error {
		var err error
		delivered, err = d.dispatchBatch(ctx, lease)
		return err
	})
	if errors.Is(err, ratelimit.ErrLockHeld) {
		return 0, nil
	}
	d.metrics.ObserveRun(workerName, time.Since(start))
	if err != nil {
		d.metrics.IncError(workerName, err)
	}
	return delivered, err
}

// dispatchLockTTL never lets the lease lapse between two polls.
func dispatchLockTTL(cfg config.OutboxConfig) time.Duration {
	if floor := cfg.PollInterval * 2; cfg.LockTTL < floor {
		return floor
	}
	return cfg.LockTTL
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, lease *ratelimit.Lease) (int, error) {
	var records []Record
	if err := d.db.WithContext(ctx).Raw(
		`SELECT id, event_type, aggregate_type, aggregate_id, dedupe_key, payload,
			attempts, last_error, available_at, dispatched_at, created_at
		FROM outbox_events
		WHERE dispatched_at IS NULL AND available_at <= ? AND attempts < ?
		ORDER BY available_at ASC, id ASC
		LIMIT ?`,
		d.clock.Now(), d.cfg.MaxAttempts, d.cfg.BatchSize,
	).Scan(&records).Error; err != nil {
		return 0, err
	}

	delivered, failed := 0, 0
	for _, rec := range records {
		// Handlers send mail, so a record must not run once another
		// instance may have taken over the batch.
		if err := lease.Refresh(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrLockLost) {
				d.log.Warn("outbox lock lost, stopping batch",
					zap.Int("delivered", delivered),
					zap.Int("remaining", len(records)-delivered-failed),
				)
				break
			}
			return delivered, err
		}
		if err := d.deliver(ctx, rec); err != nil {
			failed++
			d.log.Warn("outbox delivery failed",
				zap.String("event_type", rec.EventType),
				zap.String("outbox_id", rec.ID.String()),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err),
			)
			if markErr := d.markFailed(ctx, rec, err); markErr != nil {
				return delivered, markErr
			}
			continue
		}
		if err := d.db.WithContext(ctx).Exec(
			`UPDATE outbox_events SET dispatched_at = ? WHERE id = ? AND dispatched_at IS NULL`,
			d.clock.Now(), rec.ID,
		).Error; err != nil {
			return delivered, err
		}
		delivered++
	}

	d.metrics.AddItems(workerName, "dispatched", delivered)
	d.metrics.AddItems(workerName, "failed", failed)
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, rec Record) error {
	d.mu.RLock()
	handlers := d.handlers[rec.EventType]
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) markFailed(ctx context.Context, rec Record, cause error) error {
	msg := cause.Error()
	return d.db.WithContext(ctx).Exec(
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = ?, available_at = ? WHERE id = ?`,
		msg, d.clock.Now().Add(backoff(rec.Attempts+1)), rec.ID,
	).Error
}

func backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	if attempt > 10 {
		return maxBackoff
	}
	delay := time.Duration(1<<attempt) * time.Second
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// Start runs the dispatcher loop until the app stops.
func (d *Dispatcher) Start(lc fx.Lifecycle) {
	if !d.cfg.Enabled {
		d.log.Info("outbox dispatcher disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(d.cfg.PollInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
							d.log.Error("outbox dispatch failed", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
