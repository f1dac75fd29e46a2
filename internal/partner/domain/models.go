package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusRejected   Status = "rejected"
	StatusSuspended  Status = "suspended"
	StatusInactive   Status = "inactive"
	StatusTerminated Status = "terminated"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusTerminated
}

type Partner struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID          string          `gorm:"column:account_id" json:"account_id"`
	DisplayName        string          `gorm:"column:display_name" json:"display_name"`
	Email              string          `gorm:"column:email" json:"email"`
	Status             Status          `gorm:"column:status" json:"status"`
	CommissionRate     decimal.Decimal `gorm:"column:commission_rate" json:"commission_rate"`
	ReviewedBy         *string         `gorm:"column:reviewed_by" json:"reviewed_by,omitempty"`
	ReviewNote         *string         `gorm:"column:review_note" json:"review_note,omitempty"`
	ApprovedAt         *time.Time      `gorm:"column:approved_at" json:"approved_at,omitempty"`
	RejectedAt         *time.Time      `gorm:"column:rejected_at" json:"rejected_at,omitempty"`
	StatusChangedAt    *time.Time      `gorm:"column:status_changed_at" json:"status_changed_at,omitempty"`
	TotalReferrals     int64           `gorm:"column:total_referrals" json:"total_referrals"`
	TotalConversions   int64           `gorm:"column:total_conversions" json:"total_conversions"`
	CommissionEarned   int64           `gorm:"column:commission_earned" json:"commission_earned"`
	CommissionPaid     int64           `gorm:"column:commission_paid" json:"commission_paid"`
	CommissionReversed int64           `gorm:"column:commission_reversed" json:"commission_reversed"`
	CreatedAt          time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Partner) TableName() string { return "partners" }

// Stats are the cached aggregates on a partner row. Amounts are minor units
// summed across currencies.
type Stats struct {
	TotalReferrals     int64 `json:"total_referrals"`
	TotalConversions   int64 `json:"total_conversions"`
	CommissionEarned   int64 `json:"commission_earned"`
	CommissionPaid     int64 `json:"commission_paid"`
	CommissionReversed int64 `json:"commission_reversed"`
}
