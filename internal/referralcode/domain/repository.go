package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Lookup joins a code with its owning partner.
type Lookup struct {
	Code           string
	PartnerID      snowflake.ID
	Active         bool
	PartnerStatus  string
	PartnerAccount string
	CommissionRate decimal.Decimal
}

type Repository interface {
	// Insert returns false when the code already exists.
	Insert(ctx context.Context, db *gorm.DB, code *Code) (bool, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Code, error)
	Lookup(ctx context.Context, db *gorm.DB, code string) (*Lookup, error)
	Disable(ctx context.Context, db *gorm.DB, code string, at time.Time) (bool, error)
	IncrementUsage(ctx context.Context, db *gorm.DB, code string, at time.Time) (bool, error)
	ListByPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) ([]Code, error)
}
