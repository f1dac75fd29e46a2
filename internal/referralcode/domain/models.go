package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Code struct {
	Code        string       `gorm:"primaryKey;column:code" json:"code"`
	PartnerID   snowflake.ID `gorm:"column:partner_id" json:"partner_id"`
	Active      bool         `gorm:"column:active" json:"active"`
	UsageCount  int64        `gorm:"column:usage_count" json:"usage_count"`
	LastUsedAt  *time.Time   `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	Description *string      `gorm:"column:description" json:"description,omitempty"`
	CreatedAt   time.Time    `gorm:"column:created_at" json:"created_at"`
	DisabledAt  *time.Time   `gorm:"column:disabled_at" json:"disabled_at,omitempty"`
}

func (Code) TableName() string { return "referral_codes" }

// Resolution is what attribution needs from a usable code.
type Resolution struct {
	Code           string          `json:"code"`
	PartnerID      snowflake.ID    `json:"partner_id"`
	PartnerAccount string          `json:"-"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Active         bool            `json:"active"`
}

type State string

const (
	StateActive          State = "active"
	StateDisabled        State = "disabled"
	StatePartnerInactive State = "partner_inactive"
)

// Inspection is the admin view of a code.
type Inspection struct {
	Code          Code   `json:"code"`
	State         State  `json:"state"`
	PartnerStatus string `json:"partner_status"`
}
