package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/referrals/internal/audit/domain"
	"github.com/smallbiznis/referrals/internal/clock"
	commissiondomain "github.com/smallbiznis/referrals/internal/commission/domain"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/events"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	"github.com/smallbiznis/referrals/internal/payout/domain"
	"github.com/smallbiznis/referrals/internal/ratelimit"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"github.com/smallbiznis/referrals/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockPrefix = "referrals:payout:"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        domain.Repository
	Commissions commissiondomain.Repository
	Partners    partnerdomain.Repository
	Program     *config.ProgramConfigHolder
	Outbox      *events.Outbox
	Locker      *ratelimit.Locker   `optional:"true"`
	Audit       auditdomain.Service `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	lockTTL     time.Duration
	repo        domain.Repository
	commissions commissiondomain.Repository
	partners    partnerdomain.Repository
	program     *config.ProgramConfigHolder
	outbox      *events.Outbox
	locker      *ratelimit.Locker
	audit       auditdomain.Service
}

func New(p Params) domain.Service {
	ttl := p.Config.Payout.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payout.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		lockTTL:     ttl,
		repo:        p.Repo,
		commissions: p.Commissions,
		partners:    p.Partners,
		program:     p.Program,
		outbox:      p.Outbox,
		locker:      p.Locker,
		audit:       p.Audit,
	}
}

func (s *Service) CreateBatch(ctx context.Context, req domain.CreateBatchRequest) (domain.BatchDetail, error) {
	currency := money.NormalizeCurrency(req.Currency)
	if !money.ValidCurrency(currency) {
		return domain.BatchDetail{}, domain.ErrInvalidCurrency
	}
	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		createdBy = "system"
	}

	var detail domain.BatchDetail
	err := s.locker.WithLock(ctx, lockPrefix+currency, s.lockTTL, func(ctx context.Context) error {
		var err error
		detail, err = s.createBatch(ctx, currency, createdBy)
		return err
	})
	if errors.Is(err, ratelimit.ErrLockHeld) {
		return domain.BatchDetail{}, domain.ErrBatchInProgress
	}
	if err != nil {
		return domain.BatchDetail{}, err
	}

	s.log.Info("payout batch created",
		zap.String("batch_id", detail.Batch.ID.String()),
		zap.String("currency", currency),
		zap.Int64("total_amount", detail.Batch.TotalAmount),
		zap.Int("partner_count", detail.Batch.PartnerCount),
	)
	return detail, nil
}

func (s *Service) createBatch(ctx context.Context, currency, createdBy string) (domain.BatchDetail, error) {
	minimum := s.program.Get().PayoutMinimum
	var detail domain.BatchDetail

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		if _, err := s.commissions.ReleaseHeld(ctx, tx, now); err != nil {
			return err
		}
		groups, err := s.commissions.PayableGroups(ctx, tx, currency)
		if err != nil {
			return err
		}
		partnerIDs := make([]snowflake.ID, 0, len(groups))
		for _, g := range groups {
			if g.Amount >= minimum && g.Amount > 0 {
				partnerIDs = append(partnerIDs, g.PartnerID)
			}
		}
		if len(partnerIDs) == 0 {
			return domain.ErrNothingToPay
		}

		batch := domain.Batch{
			ID:        s.genID.Generate(),
			Currency:  currency,
			Status:    domain.StatusOpen,
			CreatedBy: createdBy,
			CreatedAt: now,
		}
		if err := s.repo.InsertBatch(ctx, tx, &batch); err != nil {
			return err
		}
		if _, err := s.commissions.AssignBatch(ctx, tx, batch.ID, partnerIDs, currency, now); err != nil {
			return err
		}

		assigned, err := s.commissions.BatchGroups(ctx, tx, batch.ID, commissiondomain.StatusAccrued)
		if err != nil {
			return err
		}
		items := make([]domain.Item, 0, len(assigned))
		for _, g := range assigned {
			item := domain.Item{
				ID:         s.genID.Generate(),
				BatchID:    batch.ID,
				PartnerID:  g.PartnerID,
				Amount:     g.Amount,
				EntryCount: g.EntryCount,
				CreatedAt:  now,
			}
			if err := s.repo.InsertItem(ctx, tx, &item); err != nil {
				return err
			}
			items = append(items, item)
			batch.TotalAmount += g.Amount
			batch.EntryCount += g.EntryCount
		}
		batch.PartnerCount = len(items)
		if err := s.repo.SetTotals(ctx, tx, batch.ID, assigned); err != nil {
			return err
		}
		if s.audit != nil {
			if err := s.audit.RecordTx(ctx, tx, auditdomain.Entry{
				Action:     "payout.create",
				TargetType: "payout_batch",
				TargetID:   batch.ID.String(),
				Metadata: map[string]any{
					"currency":     currency,
					"total_amount": batch.TotalAmount,
				},
			}); err != nil {
				return err
			}
		}
		detail = domain.BatchDetail{Batch: batch, Items: items}
		return nil
	})
	return detail, err
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID) (domain.BatchDetail, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		closed, err := s.repo.MarkPaid(ctx, tx, id, now)
		if err != nil {
			return err
		}
		if !closed {
			batch, err := s.repo.FindBatch(ctx, tx, id)
			if err != nil {
				return err
			}
			if batch == nil {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: batch is %s", domain.ErrInvalidTransition, batch.Status)
		}

		held, err := s.commissions.HoldIneligible(ctx, tx, id, now)
		if err != nil {
			return err
		}
		if held > 0 {
			s.log.Warn("entries of inactive partners held back from payout",
				zap.String("batch_id", id.String()),
				zap.Int64("entries", held),
			)
		}
		if _, err := s.commissions.MarkBatchPaid(ctx, tx, id, now); err != nil {
			return err
		}
		paid, err := s.commissions.BatchGroups(ctx, tx, id, commissiondomain.StatusPaid)
		if err != nil {
			return err
		}
		if err := s.repo.SetTotals(ctx, tx, id, paid); err != nil {
			return err
		}
		batch, err := s.repo.FindBatch(ctx, tx, id)
		if err != nil {
			return err
		}
		countsTowardStats := s.program.Get().CountsTowardStats(batch.Currency)
		for _, g := range paid {
			if countsTowardStats {
				if err := s.partners.AdjustStats(ctx, tx, g.PartnerID, partnerdomain.Stats{CommissionPaid: g.Amount}, now); err != nil {
					return err
				}
			}
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type:          events.EventPayoutPaid,
				AggregateType: "payout_batch",
				AggregateID:   id.String(),
				DedupeKey:     fmt.Sprintf("%s:%s:%s", events.EventPayoutPaid, id, g.PartnerID),
				Payload: map[string]any{
					"batch_id":    id.String(),
					"partner_id":  g.PartnerID.String(),
					"amount":      g.Amount,
					"currency":    batch.Currency,
					"entry_count": g.EntryCount,
				},
			}); err != nil {
				return err
			}
		}
		if s.audit == nil {
			return nil
		}
		return s.audit.RecordTx(ctx, tx, auditdomain.Entry{
			Action:     "payout.paid",
			TargetType: "payout_batch",
			TargetID:   id.String(),
			Metadata:   map[string]any{"total_amount": batch.TotalAmount},
		})
	})
	if err != nil {
		return domain.BatchDetail{}, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.BatchDetail, error) {
	batch, err := s.repo.FindBatch(ctx, s.db, id)
	if err != nil {
		return domain.BatchDetail{}, err
	}
	if batch == nil {
		return domain.BatchDetail{}, domain.ErrNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, id)
	if err != nil {
		return domain.BatchDetail{}, err
	}
	return domain.BatchDetail{Batch: *batch, Items: items}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListBatchRequest) (domain.ListBatchResponse, error) {
	cursor, err := pagination.DecodeCursor(strings.TrimSpace(req.PageToken))
	if err != nil {
		return domain.ListBatchResponse{}, err
	}
	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{Status: req.Status, Cursor: cursor, Limit: limit})
	if err != nil {
		return domain.ListBatchResponse{}, err
	}
	items, info, err := pagination.Trim(items, limit, func(b domain.Batch) pagination.Cursor {
		return pagination.Cursor{ID: int64(b.ID), CreatedAt: b.CreatedAt}
	})
	if err != nil {
		return domain.ListBatchResponse{}, err
	}
	return domain.ListBatchResponse{PageInfo: info, Batches: items}, nil
}
