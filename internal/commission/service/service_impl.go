package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/commission/domain"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/events"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	"github.com/smallbiznis/referrals/internal/validation"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"github.com/smallbiznis/referrals/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxReasonLength = 500

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	Attributions attributiondomain.Repository
	Partners     partnerdomain.Repository
	Program      *config.ProgramConfigHolder
	Outbox       *events.Outbox
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	attributions attributiondomain.Repository
	partners     partnerdomain.Repository
	program      *config.ProgramConfigHolder
	outbox       *events.Outbox
	metrics      *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("commission.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		attributions: p.Attributions,
		partners:     p.Partners,
		program:      p.Program,
		outbox:       p.Outbox,
		metrics:      p.Metrics,
	}
}

func (s *Service) RecordCommission(ctx context.Context, req domain.RecordRequest) (domain.RecordResult, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return domain.RecordResult{}, validation.Field("payment_id", "required")
	}
	if req.PartnerID == 0 {
		return domain.RecordResult{}, validation.Field("partner_id", "required")
	}
	if req.AttributionID == 0 {
		return domain.RecordResult{}, validation.Field("attribution_id", "required")
	}
	if req.GrossAmount <= 0 {
		return domain.RecordResult{}, domain.ErrInvalidAmount
	}
	currency := money.NormalizeCurrency(req.Currency)
	if !money.ValidCurrency(currency) {
		return domain.RecordResult{}, domain.ErrInvalidCurrency
	}
	period := req.BillingPeriod
	if period.Start != nil && period.End != nil && period.End.Before(*period.Start) {
		return domain.RecordResult{}, domain.ErrInvalidPeriod
	}

	existing, err := s.repo.FindByPayment(ctx, s.db, paymentID)
	if err != nil {
		return domain.RecordResult{}, err
	}
	if existing != nil {
		return s.replayed(ctx, *existing), nil
	}

	var (
		entry    domain.Entry
		inserted bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attribution, err := s.attributions.FindByID(ctx, tx, req.AttributionID)
		if err != nil {
			return err
		}
		if attribution == nil {
			return domain.ErrAttributionNotFound
		}
		if attribution.PartnerID != req.PartnerID {
			return domain.ErrAttributionMismatch
		}

		partner, err := s.partners.FindByID(ctx, tx, req.PartnerID)
		if err != nil {
			return err
		}
		payable, eligible := s.eligibility(partner)
		if !eligible {
			return domain.ErrPartnerNotEligible
		}

		now := s.clock.Now()
		entry = domain.Entry{
			ID:               s.genID.Generate(),
			PartnerID:        req.PartnerID,
			AttributionID:    attribution.ID,
			PaymentID:        paymentID,
			InvoiceID:        optional(req.InvoiceID),
			SubscriptionID:   optional(req.SubscriptionID),
			GrossAmount:      req.GrossAmount,
			CommissionRate:   attribution.CommissionRate,
			CommissionAmount: money.Commission(req.GrossAmount, attribution.CommissionRate),
			Currency:         currency,
			PeriodStart:      period.Start,
			PeriodEnd:        period.End,
			Status:           domain.StatusAccrued,
			Payable:          payable,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		inserted, err = s.repo.InsertIfAbsent(ctx, tx, &entry)
		if err != nil || !inserted {
			return err
		}
		if s.program.Get().CountsTowardStats(entry.Currency) {
			if err := s.partners.AdjustStats(ctx, tx, entry.PartnerID, partnerdomain.Stats{CommissionEarned: entry.CommissionAmount}, now); err != nil {
				return err
			}
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:          events.EventCommissionAccrued,
			AggregateType: "commission",
			AggregateID:   entry.ID.String(),
			Payload: map[string]any{
				"entry_id":          entry.ID.String(),
				"partner_id":        entry.PartnerID.String(),
				"payment_id":        entry.PaymentID,
				"commission_amount": entry.CommissionAmount,
				"currency":          entry.Currency,
				"payable":           entry.Payable,
			},
		})
	})
	if errors.Is(err, domain.ErrPartnerNotEligible) {
		s.metrics.RecordCommission(ctx, "not_eligible", currency, 0)
		return domain.RecordResult{}, err
	}
	if err != nil {
		return domain.RecordResult{}, err
	}

	if !inserted {
		// lost a race with a concurrent delivery of the same payment
		winner, err := s.repo.FindByPayment(ctx, s.db, paymentID)
		if err != nil {
			return domain.RecordResult{}, err
		}
		if winner == nil {
			return domain.RecordResult{}, domain.ErrNotFound
		}
		return s.replayed(ctx, *winner), nil
	}

	s.metrics.RecordCommission(ctx, "accrued", entry.Currency, entry.CommissionAmount)
	s.log.Info("commission accrued",
		zap.String("entry_id", entry.ID.String()),
		zap.String("partner_id", entry.PartnerID.String()),
		zap.String("payment_id", entry.PaymentID),
		zap.Int64("commission_amount", entry.CommissionAmount),
		zap.Bool("payable", entry.Payable),
	)
	return domain.RecordResult{Entry: entry}, nil
}

// eligibility applies the accrual policy: active partners accrue payable
// entries, suspended partners accrue held entries unless the program
// disables that, and every other status accrues nothing.
func (s *Service) eligibility(partner *partnerdomain.Partner) (payable bool, eligible bool) {
	if partner == nil {
		return false, false
	}
	switch partner.Status {
	case partnerdomain.StatusActive:
		return true, true
	case partnerdomain.StatusSuspended:
		return false, s.program.Get().SuspendedAccrues
	default:
		return false, false
	}
}

func (s *Service) replayed(ctx context.Context, entry domain.Entry) domain.RecordResult {
	s.metrics.RecordCommission(ctx, "replayed", entry.Currency, 0)
	s.log.Info("commission replay ignored",
		zap.String("entry_id", entry.ID.String()),
		zap.String("payment_id", entry.PaymentID),
	)
	return domain.RecordResult{Entry: entry, Replayed: true}
}

func (s *Service) ReverseCommission(ctx context.Context, paymentID, reason string) (bool, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return false, validation.Field("payment_id", "required")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}

	var reversed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		ok, err := s.repo.Reverse(ctx, tx, paymentID, reason, now)
		if err != nil || !ok {
			return err
		}
		entry, err := s.repo.FindByPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if entry == nil {
			return domain.ErrNotFound
		}
		if s.program.Get().CountsTowardStats(entry.Currency) {
			if err := s.partners.AdjustStats(ctx, tx, entry.PartnerID, partnerdomain.Stats{
				CommissionEarned:   -entry.CommissionAmount,
				CommissionReversed: entry.CommissionAmount,
			}, now); err != nil {
				return err
			}
		}
		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			Type:          events.EventCommissionReversed,
			AggregateType: "commission",
			AggregateID:   entry.ID.String(),
			Payload: map[string]any{
				"entry_id":          entry.ID.String(),
				"partner_id":        entry.PartnerID.String(),
				"payment_id":        entry.PaymentID,
				"commission_amount": entry.CommissionAmount,
				"currency":          entry.Currency,
				"reason":            reason,
			},
		}); err != nil {
			return err
		}
		reversed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	s.metrics.RecordReversal(ctx, reversed)
	if !reversed {
		s.log.Info("no accrued commission to reverse", zap.String("payment_id", paymentID))
	}
	return reversed, nil
}

func (s *Service) GetByPayment(ctx context.Context, paymentID string) (domain.Entry, error) {
	entry, err := s.repo.FindByPayment(ctx, s.db, strings.TrimSpace(paymentID))
	if err != nil {
		return domain.Entry{}, err
	}
	if entry == nil {
		return domain.Entry{}, domain.ErrNotFound
	}
	return *entry, nil
}

func (s *Service) ListByPartner(ctx context.Context, req domain.ListEntryRequest) (domain.ListEntryResponse, error) {
	if req.PartnerID == 0 {
		return domain.ListEntryResponse{}, validation.Field("partner_id", "required")
	}
	cursor, err := pagination.DecodeCursor(strings.TrimSpace(req.PageToken))
	if err != nil {
		return domain.ListEntryResponse{}, err
	}
	limit := req.Limit()

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		PartnerID: req.PartnerID,
		Status:    req.Status,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		return domain.ListEntryResponse{}, err
	}
	items, info, err := pagination.Trim(items, limit, func(e domain.Entry) pagination.Cursor {
		return pagination.Cursor{ID: int64(e.ID), CreatedAt: e.CreatedAt}
	})
	if err != nil {
		return domain.ListEntryResponse{}, err
	}
	return domain.ListEntryResponse{PageInfo: info, Entries: items}, nil
}

func (s *Service) Summary(ctx context.Context, partnerID snowflake.ID) ([]domain.CurrencySummary, error) {
	if partnerID == 0 {
		return nil, validation.Field("partner_id", "required")
	}
	return s.repo.Summary(ctx, s.db, partnerID)
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
