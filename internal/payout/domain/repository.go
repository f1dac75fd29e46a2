package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/referrals/internal/commission/domain"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status Status
	Cursor *pagination.Cursor
	Limit  int
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, batch *Batch) error
	InsertItem(ctx context.Context, db *gorm.DB, item *Item) error
	FindBatch(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	ListItems(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]Item, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Batch, error)
	// MarkPaid closes an open batch.
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	// SetTotals rewrites batch and item totals from per-partner groups.
	SetTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, groups []commissiondomain.PayoutGroup) error
}
