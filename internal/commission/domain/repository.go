package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	PartnerID snowflake.ID
	Status    Status
	Cursor    *pagination.Cursor
	Limit     int
}

// PayoutGroup is the payable balance of one partner in one currency.
type PayoutGroup struct {
	PartnerID  snowflake.ID
	Amount     int64
	EntryCount int
}

type Repository interface {
	// InsertIfAbsent returns false when the payment already has an entry.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	FindByPayment(ctx context.Context, db *gorm.DB, paymentID string) (*Entry, error)
	// Reverse flips an accrued entry to reversed and detaches it from any open batch.
	Reverse(ctx context.Context, db *gorm.DB, paymentID, reason string, at time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Entry, error)
	Summary(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) ([]CurrencySummary, error)

	// ReleaseHeld marks held entries of active partners payable again.
	ReleaseHeld(ctx context.Context, db *gorm.DB, at time.Time) (int64, error)
	// PayableGroups sums unbatched payable entries of active partners.
	PayableGroups(ctx context.Context, db *gorm.DB, currency string) ([]PayoutGroup, error)
	AssignBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID, partnerIDs []snowflake.ID, currency string, at time.Time) (int64, error)
	// HoldIneligible detaches a batch's accrued entries whose partner is no
	// longer active and marks them held.
	HoldIneligible(ctx context.Context, db *gorm.DB, batchID snowflake.ID, at time.Time) (int64, error)
	// MarkBatchPaid pays the accrued entries of a batch.
	MarkBatchPaid(ctx context.Context, db *gorm.DB, batchID snowflake.ID, at time.Time) (int64, error)
	// BatchGroups totals a batch's entries in status per partner.
	BatchGroups(ctx context.Context, db *gorm.DB, batchID snowflake.ID, status Status) ([]PayoutGroup, error)
}
