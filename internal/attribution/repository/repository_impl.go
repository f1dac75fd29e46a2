package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/attribution/domain"
	referralsdb "github.com/smallbiznis/referrals/pkg/db"
	"gorm.io/gorm"
)

const attributionColumns = `id, identity_id, partner_id, code, commission_rate, status, metadata,
	conversion_value, currency, commission_earned, payment_id, subscription_id, plan_id,
	signup_at, converted_at, subscribed_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, a *domain.Attribution) (bool, error) {
	return referralsdb.InsertIgnoring(ctx, db,
		`INSERT INTO attributions (
			id, identity_id, partner_id, code, commission_rate, status, metadata,
			signup_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"identity_id",
		a.ID,
		a.IdentityID,
		a.PartnerID,
		a.Code,
		a.CommissionRate,
		a.Status,
		a.Metadata,
		a.SignupAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Attribution, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByIdentity(ctx context.Context, db *gorm.DB, identityID string) (*domain.Attribution, error) {
	return r.findOne(ctx, db, "identity_id = ?", identityID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Attribution, error) {
	var out domain.Attribution
	err := db.WithContext(ctx).Raw(
		`SELECT `+attributionColumns+` FROM attributions WHERE `+where,
		arg,
	).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, nil
	}
	return &out, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Attribution, error) {
	var items []domain.Attribution
	stmt := db.WithContext(ctx).Model(&domain.Attribution{})
	if filter.PartnerID != 0 {
		stmt = stmt.Where("partner_id = ?", filter.PartnerID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
