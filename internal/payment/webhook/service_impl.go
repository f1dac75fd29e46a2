package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	"github.com/smallbiznis/referrals/internal/clock"
	commissiondomain "github.com/smallbiznis/referrals/internal/commission/domain"
	conversiondomain "github.com/smallbiznis/referrals/internal/conversion/domain"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	"github.com/smallbiznis/referrals/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/referrals/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         paymentdomain.Repository
	Adapters     *adapters.Registry
	Attributions attributiondomain.Service
	Conversions  conversiondomain.Service
	Commissions  commissiondomain.Service
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         paymentdomain.Repository
	adapters     *adapters.Registry
	attributions attributiondomain.Service
	conversions  conversiondomain.Service
	commissions  commissiondomain.Service
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.webhook"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		adapters:     p.Adapters,
		attributions: p.Attributions,
		conversions:  p.Conversions,
		commissions:  p.Commissions,
		metrics:      p.Metrics,
	}
}

func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return paymentdomain.IngestResult{}, err
	}
	// Signature first: an unsigned body is never parsed or stored.
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordPaymentEvent(ctx, provider, "unknown", "invalid_signature")
		return paymentdomain.IngestResult{}, err
	}
	if !json.Valid(payload) {
		return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidPayload
	}

	evt, err := adapter.Parse(ctx, payload)
	if errors.Is(err, paymentdomain.ErrEventIgnored) {
		s.metrics.RecordPaymentEvent(ctx, provider, "unknown", string(paymentdomain.OutcomeIgnored))
		return paymentdomain.IngestResult{Outcome: paymentdomain.OutcomeIgnored}, nil
	}
	if err != nil {
		return paymentdomain.IngestResult{}, err
	}

	record, fresh, err := s.receive(ctx, evt)
	if err != nil {
		return paymentdomain.IngestResult{}, err
	}
	if !fresh && record.ProcessedAt != nil {
		s.metrics.RecordPaymentEvent(ctx, provider, evt.Type, string(paymentdomain.OutcomeDuplicate))
		return paymentdomain.IngestResult{Outcome: paymentdomain.OutcomeDuplicate, EventType: evt.Type}, nil
	}

	commission, err := s.apply(ctx, evt)
	if isPermanent(err) {
		// The payload can never succeed; keep the reason but stop retries.
		s.log.Warn("payment webhook rejected by ledger",
			zap.String("provider", provider),
			zap.String("provider_event_id", evt.ProviderEventID),
			zap.Error(err),
		)
		if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
			return paymentdomain.IngestResult{}, err
		}
		if err := s.repo.MarkFailed(ctx, s.db, record.ID, err.Error()); err != nil {
			return paymentdomain.IngestResult{}, err
		}
		s.metrics.RecordPaymentEvent(ctx, provider, evt.Type, "rejected")
		return paymentdomain.IngestResult{Outcome: paymentdomain.OutcomeProcessed, EventType: evt.Type, Commission: "rejected"}, nil
	}
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, s.db, record.ID, err.Error()); markErr != nil {
			s.log.Warn("record webhook failure", zap.Error(markErr))
		}
		s.metrics.RecordPaymentEvent(ctx, provider, evt.Type, "failed")
		s.log.Error("payment webhook processing failed",
			zap.String("provider", provider),
			zap.String("provider_event_id", evt.ProviderEventID),
			zap.String("event_type", evt.Type),
			zap.Error(err),
		)
		return paymentdomain.IngestResult{}, err
	}
	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		return paymentdomain.IngestResult{}, err
	}

	s.metrics.RecordPaymentEvent(ctx, provider, evt.Type, string(paymentdomain.OutcomeProcessed))
	s.log.Info("payment webhook processed",
		zap.String("provider", provider),
		zap.String("provider_event_id", evt.ProviderEventID),
		zap.String("event_type", evt.Type),
		zap.String("commission", commission),
	)
	return paymentdomain.IngestResult{
		Outcome:    paymentdomain.OutcomeProcessed,
		EventType:  evt.Type,
		Commission: commission,
	}, nil
}

// receive stores the delivery. It returns the existing row when the provider
// event was seen before.
func (s *Service) receive(ctx context.Context, evt *paymentdomain.PaymentEvent) (*paymentdomain.EventRecord, bool, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        evt.Provider,
		ProviderEventID: evt.ProviderEventID,
		EventType:       evt.Type,
		PaymentID:       optional(evt.PaymentID),
		IdentityID:      optional(evt.IdentityID),
		Currency:        optional(evt.Currency),
		Payload:         datatypes.JSON(evt.RawPayload),
		ReceivedAt:      s.clock.Now(),
	}
	if evt.Amount != 0 {
		amount := evt.Amount
		record.Amount = &amount
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return record, true, nil
	}
	existing, err := s.repo.FindEvent(ctx, s.db, evt.Provider, evt.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, paymentdomain.ErrInvalidEvent
	}
	return existing, false, nil
}

func (s *Service) apply(ctx context.Context, evt *paymentdomain.PaymentEvent) (string, error) {
	switch evt.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		return s.applyPayment(ctx, evt)
	case paymentdomain.EventTypeRefunded, paymentdomain.EventTypeDisputed:
		reversed, err := s.commissions.ReverseCommission(ctx, evt.PaymentID, evt.Reason)
		if err != nil {
			return "", err
		}
		if reversed {
			return "reversed", nil
		}
		return "skipped", nil
	case paymentdomain.EventTypePartiallyRefunded:
		s.log.Info("partial refund leaves commission accrued",
			zap.String("payment_id", evt.PaymentID),
			zap.Int64("amount_refunded", evt.Amount),
		)
		return "skipped", nil
	}
	return "", nil
}

func (s *Service) applyPayment(ctx context.Context, evt *paymentdomain.PaymentEvent) (string, error) {
	if evt.IdentityID == "" {
		return "skipped", nil
	}

	if evt.ReferralCode != "" {
		// Checkout metadata can carry a code the signup flow never saw.
		s.attributions.AttributeBestEffort(ctx, attributiondomain.AttributeRequest{
			IdentityID: evt.IdentityID,
			Code:       evt.ReferralCode,
			Metadata:   attributiondomain.Metadata{Source: "payment_metadata"},
		})
	}

	// A zero-amount charge (trial invoice) must not consume the first
	// conversion or write an empty ledger entry.
	if evt.Amount <= 0 {
		return "skipped", nil
	}

	attribution, err := s.attributions.GetByIdentity(ctx, evt.IdentityID)
	if errors.Is(err, attributiondomain.ErrNotFound) {
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}

	if _, err := s.conversions.MarkConverted(ctx, conversiondomain.ConvertRequest{
		IdentityID:      evt.IdentityID,
		PaymentID:       evt.PaymentID,
		ConversionValue: evt.Amount,
		Currency:        evt.Currency,
	}); err != nil {
		return "", err
	}
	if evt.SubscriptionID != "" {
		if _, err := s.conversions.MarkSubscribed(ctx, conversiondomain.SubscribeRequest{
			IdentityID:     evt.IdentityID,
			SubscriptionID: evt.SubscriptionID,
			PlanID:         evt.PlanID,
		}); err != nil {
			return "", err
		}
	}

	res, err := s.commissions.RecordCommission(ctx, commissiondomain.RecordRequest{
		PartnerID:      attribution.PartnerID,
		AttributionID:  attribution.ID,
		PaymentID:      evt.PaymentID,
		InvoiceID:      evt.InvoiceID,
		SubscriptionID: evt.SubscriptionID,
		GrossAmount:    evt.Amount,
		Currency:       evt.Currency,
		BillingPeriod:  commissiondomain.BillingPeriod{Start: evt.PeriodStart, End: evt.PeriodEnd},
	})
	switch {
	case errors.Is(err, commissiondomain.ErrPartnerNotEligible):
		return "skipped", nil
	case err != nil:
		return "", err
	case res.Replayed:
		return "replayed", nil
	}
	return "recorded", nil
}

func isPermanent(err error) bool {
	for _, target := range []error{
		conversiondomain.ErrInvalidValue,
		conversiondomain.ErrInvalidCurrency,
		commissiondomain.ErrInvalidAmount,
		commissiondomain.ErrInvalidCurrency,
		commissiondomain.ErrInvalidPeriod,
		commissiondomain.ErrAttributionMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
