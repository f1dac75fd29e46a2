// Package notification turns committed outbox events into partner emails.
package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/events"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	"github.com/smallbiznis/referrals/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Email    email.Provider
	Partners partnerdomain.Repository
}

type Handler struct {
	db       *gorm.DB
	log      *zap.Logger
	email    email.Provider
	partners partnerdomain.Repository
}

func NewHandler(p Params) *Handler {
	return &Handler{
		db:       p.DB,
		log:      p.Log.Named("notification.handler"),
		email:    p.Email,
		partners: p.Partners,
	}
}

var templateByEvent = map[string]string{
	events.EventPartnerApproved:    "partner_approved",
	events.EventPartnerRejected:    "partner_rejected",
	events.EventAttributionCreated: "attribution_created",
	events.EventCommissionAccrued:  "commission_accrued",
	events.EventPayoutPaid:         "payout_paid",
}

// Register subscribes the handler to every event that notifies a partner.
func (h *Handler) Register(d *events.Dispatcher) {
	for eventType := range templateByEvent {
		d.Subscribe(eventType, h.Handle)
	}
}

// Handle sends the email for rec. A returned error leaves rec pending for retry.
func (h *Handler) Handle(ctx context.Context, rec events.Record) error {
	templateName, ok := templateByEvent[rec.EventType]
	if !ok {
		return nil
	}

	partnerID, err := snowflake.ParseString(rec.String("partner_id"))
	if err != nil || partnerID == 0 {
		h.log.Warn("notification skipped: event has no partner",
			zap.String("event_type", rec.EventType),
			zap.String("outbox_id", rec.ID.String()),
		)
		return nil
	}
	partner, err := h.partners.FindByID(ctx, h.db, partnerID)
	if err != nil {
		return err
	}
	if partner == nil || strings.TrimSpace(partner.Email) == "" {
		h.log.Warn("notification skipped: partner has no address",
			zap.String("event_type", rec.EventType),
			zap.String("partner_id", partnerID.String()),
		)
		return nil
	}

	data := templateData(rec, *partner)
	if err := email.SendTemplate(ctx, h.email, []string{partner.Email}, templateName, data); err != nil {
		return fmt.Errorf("send %s: %w", templateName, err)
	}
	h.log.Debug("partner notified",
		zap.String("event_type", rec.EventType),
		zap.String("partner_id", partnerID.String()),
	)
	return nil
}

func templateData(rec events.Record, p partnerdomain.Partner) map[string]any {
	data := map[string]any{
		"display_name":    p.DisplayName,
		"commission_rate": p.CommissionRate.String(),
	}
	for k, v := range rec.Payload {
		if _, exists := data[k]; !exists {
			data[k] = v
		}
	}
	if p.ReviewNote != nil {
		data["review_note"] = *p.ReviewNote
	}
	switch rec.EventType {
	case events.EventCommissionAccrued:
		data["amount"] = formatMinor(rec.Payload["commission_amount"])
	case events.EventPayoutPaid:
		data["amount"] = formatMinor(rec.Payload["amount"])
	}
	return data
}

// formatMinor renders a minor-unit amount with two decimals. JSON payloads
// decode numbers as float64.
func formatMinor(v any) string {
	var minor int64
	switch n := v.(type) {
	case float64:
		minor = int64(n)
	case int64:
		minor = n
	case int:
		minor = int64(n)
	default:
		return fmt.Sprint(v)
	}
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
