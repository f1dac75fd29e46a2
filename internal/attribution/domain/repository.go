package domain

import (
	"context"

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

type Repository interface {
	// InsertIfAbsent returns false when the identity is already attributed.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, attribution *Attribution) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Attribution, error)
	FindByIdentity(ctx context.Context, db *gorm.DB, identityID string) (*Attribution, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Attribution, error)
}
