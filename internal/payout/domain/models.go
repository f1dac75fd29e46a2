package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusOpen Status = "open"
	StatusPaid Status = "paid"
)

type Batch struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Currency     string       `gorm:"column:currency" json:"currency"`
	Status       Status       `gorm:"column:status" json:"status"`
	TotalAmount  int64        `gorm:"column:total_amount" json:"total_amount"`
	EntryCount   int          `gorm:"column:entry_count" json:"entry_count"`
	PartnerCount int          `gorm:"column:partner_count" json:"partner_count"`
	CreatedBy    string       `gorm:"column:created_by" json:"created_by"`
	CreatedAt    time.Time    `gorm:"column:created_at" json:"created_at"`
	PaidAt       *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
}

func (Batch) TableName() string { return "payout_batches" }

type Item struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BatchID    snowflake.ID `gorm:"column:batch_id" json:"batch_id"`
	PartnerID  snowflake.ID `gorm:"column:partner_id" json:"partner_id"`
	Amount     int64        `gorm:"column:amount" json:"amount"`
	EntryCount int          `gorm:"column:entry_count" json:"entry_count"`
	CreatedAt  time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (Item) TableName() string { return "payout_items" }

type BatchDetail struct {
	Batch Batch  `json:"batch"`
	Items []Item `json:"items"`
}
