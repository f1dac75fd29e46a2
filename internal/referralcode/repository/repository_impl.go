package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/referralcode/domain"
	referralsdb "github.com/smallbiznis/referrals/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, code *domain.Code) (bool, error) {
	return referralsdb.InsertIgnoring(ctx, db,
		`INSERT INTO referral_codes (code, partner_id, active, usage_count, description, created_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		"code",
		code.Code,
		code.PartnerID,
		code.Active,
		code.Description,
		code.CreatedAt,
	)
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Code, error) {
	var out domain.Code
	err := db.WithContext(ctx).Raw(
		`SELECT code, partner_id, active, usage_count, last_used_at, description, created_at, disabled_at
		 FROM referral_codes WHERE code = ?`,
		code,
	).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if out.Code == "" {
		return nil, nil
	}
	return &out, nil
}

func (r *repo) Lookup(ctx context.Context, db *gorm.DB, code string) (*domain.Lookup, error) {
	var out domain.Lookup
	err := db.WithContext(ctx).Raw(
		`SELECT c.code AS code, c.partner_id AS partner_id, c.active AS active,
			p.status AS partner_status, p.account_id AS partner_account,
			p.commission_rate AS commission_rate
		 FROM referral_codes c
		 JOIN partners p ON p.id = c.partner_id
		 WHERE c.code = ?`,
		code,
	).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if out.Code == "" {
		return nil, nil
	}
	return &out, nil
}

func (r *repo) Disable(ctx context.Context, db *gorm.DB, code string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE referral_codes SET active = ?, disabled_at = ? WHERE code = ? AND active = ?`,
		false,
		at,
		code,
		true,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, code string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE referral_codes SET usage_count = usage_count + 1, last_used_at = ? WHERE code = ?`,
		at,
		code,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListByPartner(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) ([]domain.Code, error) {
	var codes []domain.Code
	err := db.WithContext(ctx).
		Model(&domain.Code{}).
		Where("partner_id = ?", partnerID).
		Order("created_at desc, code asc").
		Find(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}
