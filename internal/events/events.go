package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventPartnerApplied       = "partner.applied"
	EventPartnerApproved      = "partner.approved"
	EventPartnerRejected      = "partner.rejected"
	EventPartnerStatusChanged = "partner.status_changed"
	EventPartnerRateChanged   = "partner.rate_changed"
	EventAttributionCreated   = "attribution.created"
	EventAttributionConverted = "attribution.converted"
	EventCommissionAccrued    = "commission.accrued"
	EventCommissionReversed   = "commission.reversed"
	EventPayoutPaid           = "payout.paid"
	EventIdentitySignedUp     = "identity.signed_up"
)

// Event is a completed state transition to be fanned out after commit.
type Event struct {
	Type          string
	AggregateType string
	AggregateID   string
	Payload       map[string]any
	// DedupeKey defaults to Type:AggregateID.
	DedupeKey string
}

// Record is a persisted outbox row.
type Record struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	EventType     string            `gorm:"column:event_type" json:"event_type"`
	AggregateType string            `gorm:"column:aggregate_type" json:"aggregate_type"`
	AggregateID   string            `gorm:"column:aggregate_id" json:"aggregate_id"`
	DedupeKey     string            `gorm:"column:dedupe_key" json:"dedupe_key"`
	Payload       datatypes.JSONMap `gorm:"column:payload" json:"payload"`
	Attempts      int               `gorm:"column:attempts" json:"attempts"`
	LastError     *string           `gorm:"column:last_error" json:"last_error,omitempty"`
	AvailableAt   time.Time         `gorm:"column:available_at" json:"available_at"`
	DispatchedAt  *time.Time        `gorm:"column:dispatched_at" json:"dispatched_at,omitempty"`
	CreatedAt     time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (Record) TableName() string { return "outbox_events" }

// String returns the payload value at key, or "".
func (r Record) String(key string) string {
	v, _ := r.Payload[key].(string)
	return v
}
