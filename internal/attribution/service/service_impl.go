package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/attribution/domain"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/events"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	"github.com/smallbiznis/referrals/internal/validation"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxIdentityLength = 128

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Codes    codedomain.Service
	Partners partnerdomain.Repository
	Outbox   *events.Outbox
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	codes    codedomain.Service
	partners partnerdomain.Repository
	outbox   *events.Outbox
	metrics  *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("attribution.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		codes:    p.Codes,
		partners: p.Partners,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
	}
}

func (s *Service) Attribute(ctx context.Context, req domain.AttributeRequest) (domain.Result, error) {
	identityID := strings.TrimSpace(req.IdentityID)
	if identityID == "" || len(identityID) > maxIdentityLength {
		return domain.Result{}, validation.Field("identity_id", "required")
	}

	resolved, err := s.codes.Resolve(ctx, req.Code)
	if errors.Is(err, codedomain.ErrNotFound) {
		return s.outcome(ctx, domain.Result{Reason: domain.ReasonInvalidCode}), nil
	}
	if err != nil {
		return domain.Result{}, err
	}
	if resolved.PartnerAccount != "" && resolved.PartnerAccount == identityID {
		return s.outcome(ctx, domain.Result{Reason: domain.ReasonSelfReferral}), nil
	}

	now := s.clock.Now()
	record := domain.Attribution{
		ID:             s.genID.Generate(),
		IdentityID:     identityID,
		PartnerID:      resolved.PartnerID,
		Code:           resolved.Code,
		CommissionRate: resolved.CommissionRate,
		Status:         domain.StatusSignup,
		Metadata:       req.Metadata.JSON(now),
		SignupAt:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var inserted bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err = s.repo.InsertIfAbsent(ctx, tx, &record)
		if err != nil || !inserted {
			return err
		}
		if err := s.partners.AdjustStats(ctx, tx, record.PartnerID, partnerdomain.Stats{TotalReferrals: 1}, now); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:          events.EventAttributionCreated,
			AggregateType: "attribution",
			AggregateID:   record.ID.String(),
			Payload: map[string]any{
				"attribution_id": record.ID.String(),
				"partner_id":     record.PartnerID.String(),
				"code":           record.Code,
			},
		})
	})
	if err != nil {
		return domain.Result{}, err
	}
	if !inserted {
		return s.outcome(ctx, domain.Result{Reason: domain.ReasonAlreadyAttributed}), nil
	}

	if err := s.codes.RecordUse(ctx, record.Code); err != nil {
		s.log.Warn("failed to record code use", zap.String("code", record.Code), zap.Error(err))
	}

	s.log.Info("identity attributed",
		zap.String("attribution_id", record.ID.String()),
		zap.String("partner_id", record.PartnerID.String()),
		zap.String("code", record.Code),
	)
	rate := record.CommissionRate
	return s.outcome(ctx, domain.Result{
		Success:        true,
		PartnerID:      &record.PartnerID,
		CommissionRate: &rate,
		AttributionID:  &record.ID,
		Reason:         domain.ReasonAttributed,
	}), nil
}

func (s *Service) outcome(ctx context.Context, res domain.Result) domain.Result {
	s.metrics.RecordAttribution(ctx, string(res.Reason))
	return res
}

func (s *Service) AttributeBestEffort(ctx context.Context, req domain.AttributeRequest) domain.Result {
	res, err := s.Attribute(ctx, req)
	if err != nil {
		s.log.Warn("referral attribution skipped",
			zap.String("identity_id", req.IdentityID),
			zap.Error(err),
		)
		return s.outcome(ctx, domain.Result{Reason: domain.ReasonUnavailable})
	}
	return res
}

func (s *Service) GetByIdentity(ctx context.Context, identityID string) (domain.Attribution, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return domain.Attribution{}, domain.ErrNotFound
	}
	item, err := s.repo.FindByIdentity(ctx, s.db, identityID)
	if err != nil {
		return domain.Attribution{}, err
	}
	if item == nil {
		return domain.Attribution{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) ListByPartner(ctx context.Context, req domain.ListAttributionRequest) (domain.ListAttributionResponse, error) {
	if req.PartnerID == 0 {
		return domain.ListAttributionResponse{}, validation.Field("partner_id", "required")
	}
	cursor, err := pagination.DecodeCursor(strings.TrimSpace(req.PageToken))
	if err != nil {
		return domain.ListAttributionResponse{}, err
	}
	limit := req.Limit()

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		PartnerID: req.PartnerID,
		Status:    req.Status,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		return domain.ListAttributionResponse{}, err
	}
	items, info, err := pagination.Trim(items, limit, func(a domain.Attribution) pagination.Cursor {
		return pagination.Cursor{ID: int64(a.ID), CreatedAt: a.CreatedAt}
	})
	if err != nil {
		return domain.ListAttributionResponse{}, err
	}
	return domain.ListAttributionResponse{PageInfo: info, Attributions: items}, nil
}
