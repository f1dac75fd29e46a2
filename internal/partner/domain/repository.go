package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"gorm.io/gorm"
)

// TransitionFields are the columns written alongside a status change.
type TransitionFields struct {
	At             time.Time
	ReviewedBy     string
	ReviewNote     string
	CommissionRate *decimal.Decimal
}

type ListFilter struct {
	Status Status
	Cursor *pagination.Cursor
	Limit  int
}

type Repository interface {
	// Insert returns false when the account already has a partner.
	Insert(ctx context.Context, db *gorm.DB, partner *Partner) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Partner, error)
	FindByAccount(ctx context.Context, db *gorm.DB, accountID string) (*Partner, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Partner, error)
	// Transition moves the partner to `to` only while its status is one of from.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, fields TransitionFields) (bool, error)
	UpdateRate(ctx context.Context, db *gorm.DB, id snowflake.ID, rate decimal.Decimal, at time.Time) (bool, error)
	// AdjustStats adds delta to the cached aggregates in one statement.
	AdjustStats(ctx context.Context, db *gorm.DB, id snowflake.ID, delta Stats, at time.Time) error
	SetStats(ctx context.Context, db *gorm.DB, id snowflake.ID, stats Stats, at time.Time) error
	// ComputeStats derives aggregates from attributions and from the
	// commission entries in currency.
	ComputeStats(ctx context.Context, db *gorm.DB, id snowflake.ID, currency string) (Stats, error)
}
