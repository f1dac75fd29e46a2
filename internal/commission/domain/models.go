package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusAccrued  Status = "accrued"
	StatusReversed Status = "reversed"
	StatusPaid     Status = "paid"
)

type Entry struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	PartnerID        snowflake.ID    `gorm:"column:partner_id" json:"partner_id"`
	AttributionID    snowflake.ID    `gorm:"column:attribution_id" json:"attribution_id"`
	PaymentID        string          `gorm:"column:payment_id" json:"payment_id"`
	InvoiceID        *string         `gorm:"column:invoice_id" json:"invoice_id,omitempty"`
	SubscriptionID   *string         `gorm:"column:subscription_id" json:"subscription_id,omitempty"`
	GrossAmount      int64           `gorm:"column:gross_amount" json:"gross_amount"`
	CommissionRate   decimal.Decimal `gorm:"column:commission_rate" json:"commission_rate"`
	CommissionAmount int64           `gorm:"column:commission_amount" json:"commission_amount"`
	Currency         string          `gorm:"column:currency" json:"currency"`
	PeriodStart      *time.Time      `gorm:"column:period_start" json:"period_start,omitempty"`
	PeriodEnd        *time.Time      `gorm:"column:period_end" json:"period_end,omitempty"`
	Status           Status          `gorm:"column:status" json:"status"`
	// Payable is false while the entry is held for a suspended partner.
	Payable        bool          `gorm:"column:payable" json:"payable"`
	ReversalReason *string       `gorm:"column:reversal_reason" json:"reversal_reason,omitempty"`
	PayoutBatchID  *snowflake.ID `gorm:"column:payout_batch_id" json:"payout_batch_id,omitempty"`
	CreatedAt      time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at" json:"updated_at"`
	ReversedAt     *time.Time    `gorm:"column:reversed_at" json:"reversed_at,omitempty"`
	PaidAt         *time.Time    `gorm:"column:paid_at" json:"paid_at,omitempty"`
}

func (Entry) TableName() string { return "commission_entries" }

// CurrencySummary totals a partner's ledger in one currency.
type CurrencySummary struct {
	Currency string `json:"currency"`
	Accrued  int64  `json:"accrued"`
	Held     int64  `json:"held"`
	Paid     int64  `json:"paid"`
	Reversed int64  `json:"reversed"`
	Entries  int64  `json:"entries"`
}
