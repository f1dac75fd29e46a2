package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the durable receipt of one provider webhook delivery.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"column:provider"`
	ProviderEventID string         `json:"provider_event_id" gorm:"column:provider_event_id"`
	EventType       string         `json:"event_type" gorm:"column:event_type"`
	PaymentID       *string        `json:"payment_id,omitempty" gorm:"column:payment_id"`
	IdentityID      *string        `json:"identity_id,omitempty" gorm:"column:identity_id"`
	Amount          *int64         `json:"amount,omitempty" gorm:"column:amount"`
	Currency        *string        `json:"currency,omitempty" gorm:"column:currency"`
	Payload         datatypes.JSON `json:"payload" gorm:"column:payload"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"column:received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty" gorm:"column:processed_at"`
	LastError       *string        `json:"last_error,omitempty" gorm:"column:last_error"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypeRefunded         = "refunded"
	// EventTypePartiallyRefunded is recorded for audit but leaves the
	// commission entry accrued.
	EventTypePartiallyRefunded = "partially_refunded"
	EventTypeDisputed         = "disputed"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	// PaymentID identifies the underlying payment; the commission ledger is
	// keyed on it, so every event about one payment must carry the same value.
	PaymentID      string
	Type           string
	IdentityID     string
	ReferralCode   string
	SubscriptionID string
	PlanID         string
	InvoiceID      string
	Amount         int64
	Currency       string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Reason         string
	OccurredAt     time.Time
	RawPayload     []byte
}
