package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/referrals/internal/partner/domain"
	referralsdb "github.com/smallbiznis/referrals/pkg/db"
	"gorm.io/gorm"
)

const partnerColumns = `id, account_id, display_name, email, status, commission_rate,
	reviewed_by, review_note, approved_at, rejected_at, status_changed_at,
	total_referrals, total_conversions, commission_earned, commission_paid,
	commission_reversed, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, partner *domain.Partner) (bool, error) {
	return referralsdb.InsertIgnoring(ctx, db,
		`INSERT INTO partners (
			id, account_id, display_name, email, status, commission_rate, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"account_id",
		partner.ID,
		partner.AccountID,
		partner.DisplayName,
		partner.Email,
		partner.Status,
		partner.CommissionRate,
		partner.CreatedAt,
		partner.UpdatedAt,
	)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Partner, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByAccount(ctx context.Context, db *gorm.DB, accountID string) (*domain.Partner, error) {
	return r.findOne(ctx, db, "account_id = ?", accountID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Partner, error) {
	var partner domain.Partner
	err := db.WithContext(ctx).Raw(
		`SELECT `+partnerColumns+` FROM partners WHERE `+where,
		arg,
	).Scan(&partner).Error
	if err != nil {
		return nil, err
	}
	if partner.ID == 0 {
		return nil, nil
	}
	return &partner, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Partner, error) {
	var partners []domain.Partner
	stmt := db.WithContext(ctx).Model(&domain.Partner{})
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
	if err := stmt.Find(&partners).Error; err != nil {
		return nil, err
	}
	return partners, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, fields domain.TransitionFields) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	sets := []string{"status = ?", "status_changed_at = ?", "updated_at = ?"}
	args := []any{string(to), fields.At, fields.At}
	switch to {
	case domain.StatusActive:
		if containsStatus(from, domain.StatusPending) {
			sets = append(sets, "approved_at = COALESCE(approved_at, ?)")
			args = append(args, fields.At)
		}
	case domain.StatusRejected:
		sets = append(sets, "rejected_at = ?")
		args = append(args, fields.At)
	}
	if fields.ReviewedBy != "" {
		sets = append(sets, "reviewed_by = ?")
		args = append(args, fields.ReviewedBy)
	}
	if fields.ReviewNote != "" {
		sets = append(sets, "review_note = ?")
		args = append(args, fields.ReviewNote)
	}
	if fields.CommissionRate != nil {
		sets = append(sets, "commission_rate = ?")
		args = append(args, *fields.CommissionRate)
	}

	statuses := make([]string, 0, len(from))
	for _, s := range from {
		statuses = append(statuses, string(s))
	}
	args = append(args, id, statuses)

	result := db.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE partners SET %s WHERE id = ? AND status IN ?`, strings.Join(sets, ", ")),
		args...,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) UpdateRate(ctx context.Context, db *gorm.DB, id snowflake.ID, rate decimal.Decimal, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE partners SET commission_rate = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN ?`,
		rate,
		at,
		id,
		[]string{string(domain.StatusRejected), string(domain.StatusTerminated)},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) AdjustStats(ctx context.Context, db *gorm.DB, id snowflake.ID, delta domain.Stats, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE partners SET
			total_referrals = total_referrals + ?,
			total_conversions = total_conversions + ?,
			commission_earned = commission_earned + ?,
			commission_paid = commission_paid + ?,
			commission_reversed = commission_reversed + ?,
			updated_at = ?
		 WHERE id = ?`,
		delta.TotalReferrals,
		delta.TotalConversions,
		delta.CommissionEarned,
		delta.CommissionPaid,
		delta.CommissionReversed,
		at,
		id,
	).Error
}

func (r *repo) SetStats(ctx context.Context, db *gorm.DB, id snowflake.ID, stats domain.Stats, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE partners SET
			total_referrals = ?,
			total_conversions = ?,
			commission_earned = ?,
			commission_paid = ?,
			commission_reversed = ?,
			updated_at = ?
		 WHERE id = ?`,
		stats.TotalReferrals,
		stats.TotalConversions,
		stats.CommissionEarned,
		stats.CommissionPaid,
		stats.CommissionReversed,
		at,
		id,
	).Error
}

func (r *repo) ComputeStats(ctx context.Context, db *gorm.DB, id snowflake.ID, currency string) (domain.Stats, error) {
	var funnel struct {
		TotalReferrals   int64
		TotalConversions int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) AS total_referrals,
			COALESCE(SUM(CASE WHEN status IN ('converted', 'subscribed') THEN 1 ELSE 0 END), 0) AS total_conversions
		 FROM attributions WHERE partner_id = ?`,
		id,
	).Scan(&funnel).Error
	if err != nil {
		return domain.Stats{}, err
	}

	var ledger struct {
		CommissionEarned   int64
		CommissionPaid     int64
		CommissionReversed int64
	}
	err = db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(CASE WHEN status <> 'reversed' THEN commission_amount ELSE 0 END), 0) AS commission_earned,
			COALESCE(SUM(CASE WHEN status = 'paid' THEN commission_amount ELSE 0 END), 0) AS commission_paid,
			COALESCE(SUM(CASE WHEN status = 'reversed' THEN commission_amount ELSE 0 END), 0) AS commission_reversed
		 FROM commission_entries WHERE partner_id = ? AND currency = ?`,
		id,
		currency,
	).Scan(&ledger).Error
	if err != nil {
		return domain.Stats{}, err
	}

	return domain.Stats{
		TotalReferrals:     funnel.TotalReferrals,
		TotalConversions:   funnel.TotalConversions,
		CommissionEarned:   ledger.CommissionEarned,
		CommissionPaid:     ledger.CommissionPaid,
		CommissionReversed: ledger.CommissionReversed,
	}, nil
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
