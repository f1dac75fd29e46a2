package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status is the funnel stage of a referred identity.
type Status string

const (
	StatusSignup     Status = "signup"
	StatusConverted  Status = "converted"
	StatusSubscribed Status = "subscribed"
)

type Attribution struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	IdentityID       string            `gorm:"column:identity_id" json:"identity_id"`
	PartnerID        snowflake.ID      `gorm:"column:partner_id" json:"partner_id"`
	Code             string            `gorm:"column:code" json:"code"`
	CommissionRate   decimal.Decimal   `gorm:"column:commission_rate" json:"commission_rate"`
	Status           Status            `gorm:"column:status" json:"status"`
	Metadata         datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	ConversionValue  *int64            `gorm:"column:conversion_value" json:"conversion_value,omitempty"`
	Currency         *string           `gorm:"column:currency" json:"currency,omitempty"`
	CommissionEarned *int64            `gorm:"column:commission_earned" json:"commission_earned,omitempty"`
	PaymentID        *string           `gorm:"column:payment_id" json:"payment_id,omitempty"`
	SubscriptionID   *string           `gorm:"column:subscription_id" json:"subscription_id,omitempty"`
	PlanID           *string           `gorm:"column:plan_id" json:"plan_id,omitempty"`
	SignupAt         time.Time         `gorm:"column:signup_at" json:"signup_at"`
	ConvertedAt      *time.Time        `gorm:"column:converted_at" json:"converted_at,omitempty"`
	SubscribedAt     *time.Time        `gorm:"column:subscribed_at" json:"subscribed_at,omitempty"`
	CreatedAt        time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (Attribution) TableName() string { return "attributions" }

// Metadata describes where a referral was captured.
type Metadata struct {
	Source      string     `json:"source,omitempty"`
	Referrer    string     `json:"referrer,omitempty"`
	LandingPath string     `json:"landing_path,omitempty"`
	UTMSource   string     `json:"utm_source,omitempty"`
	UTMMedium   string     `json:"utm_medium,omitempty"`
	UTMCampaign string     `json:"utm_campaign,omitempty"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
}

const maxMetadataValue = 512

// JSON returns the non-empty fields, each capped in length.
func (m Metadata) JSON(now time.Time) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	put := func(key, value string) {
		if value == "" {
			return
		}
		if len(value) > maxMetadataValue {
			value = value[:maxMetadataValue]
		}
		out[key] = value
	}
	put("source", m.Source)
	put("referrer", m.Referrer)
	put("landing_path", m.LandingPath)
	put("utm_source", m.UTMSource)
	put("utm_medium", m.UTMMedium)
	put("utm_campaign", m.UTMCampaign)
	captured := now
	if m.CapturedAt != nil && !m.CapturedAt.IsZero() {
		captured = m.CapturedAt.UTC()
	}
	out["captured_at"] = captured.Format(time.RFC3339)
	return out
}
