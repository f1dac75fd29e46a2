package service

import (
	"context"
	"strings"

	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/conversion/domain"
	"github.com/smallbiznis/referrals/internal/events"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	"github.com/smallbiznis/referrals/internal/validation"
	"github.com/smallbiznis/referrals/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Repo         domain.Repository
	Attributions attributiondomain.Repository
	Partners     partnerdomain.Repository
	Outbox       *events.Outbox
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	repo         domain.Repository
	attributions attributiondomain.Repository
	partners     partnerdomain.Repository
	outbox       *events.Outbox
	metrics      *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("conversion.service"),
		clock:        p.Clock,
		repo:         p.Repo,
		attributions: p.Attributions,
		partners:     p.Partners,
		outbox:       p.Outbox,
		metrics:      p.Metrics,
	}
}

func (s *Service) MarkConverted(ctx context.Context, req domain.ConvertRequest) (bool, error) {
	identityID := strings.TrimSpace(req.IdentityID)
	paymentID := strings.TrimSpace(req.PaymentID)
	if identityID == "" {
		return false, validation.Field("identity_id", "required")
	}
	if paymentID == "" {
		return false, validation.Field("payment_id", "required")
	}
	if req.ConversionValue <= 0 {
		return false, domain.ErrInvalidValue
	}
	currency := money.NormalizeCurrency(req.Currency)
	if !money.ValidCurrency(currency) {
		return false, domain.ErrInvalidCurrency
	}

	var converted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attribution, err := s.attributions.FindByIdentity(ctx, tx, identityID)
		if err != nil {
			return err
		}
		if attribution == nil || attribution.Status != attributiondomain.StatusSignup {
			return nil
		}

		now := s.clock.Now()
		earned := money.Commission(req.ConversionValue, attribution.CommissionRate)
		converted, err = s.repo.MarkConverted(ctx, tx, attribution.ID, domain.ConvertFields{
			PaymentID:        paymentID,
			ConversionValue:  req.ConversionValue,
			Currency:         currency,
			CommissionEarned: earned,
			At:               now,
		})
		if err != nil || !converted {
			return err
		}
		if err := s.partners.AdjustStats(ctx, tx, attribution.PartnerID, partnerdomain.Stats{TotalConversions: 1}, now); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:          events.EventAttributionConverted,
			AggregateType: "attribution",
			AggregateID:   attribution.ID.String(),
			Payload: map[string]any{
				"attribution_id":    attribution.ID.String(),
				"partner_id":        attribution.PartnerID.String(),
				"payment_id":        paymentID,
				"conversion_value":  req.ConversionValue,
				"currency":          currency,
				"commission_earned": earned,
			},
		})
	})
	if err != nil {
		return false, err
	}

	s.metrics.RecordConversion(ctx, string(attributiondomain.StatusConverted), converted)
	if !converted {
		s.log.Info("no signup-stage attribution to convert",
			zap.String("identity_id", identityID),
			zap.String("payment_id", paymentID),
		)
	}
	return converted, nil
}

func (s *Service) MarkSubscribed(ctx context.Context, req domain.SubscribeRequest) (bool, error) {
	identityID := strings.TrimSpace(req.IdentityID)
	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	if identityID == "" {
		return false, validation.Field("identity_id", "required")
	}
	if subscriptionID == "" {
		return false, validation.Field("subscription_id", "required")
	}

	subscribed, err := s.repo.MarkSubscribed(ctx, s.db, identityID, domain.SubscribeFields{
		SubscriptionID: subscriptionID,
		PlanID:         strings.TrimSpace(req.PlanID),
		At:             s.clock.Now(),
	})
	if err != nil {
		return false, err
	}

	s.metrics.RecordConversion(ctx, string(attributiondomain.StatusSubscribed), subscribed)
	if !subscribed {
		s.log.Info("no converted attribution to subscribe",
			zap.String("identity_id", identityID),
			zap.String("subscription_id", subscriptionID),
		)
	}
	return subscribed, nil
}
