package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/commission/domain"
	referralsdb "github.com/smallbiznis/referrals/pkg/db"
	"gorm.io/gorm"
)

const entryColumns = `id, partner_id, attribution_id, payment_id, invoice_id, subscription_id,
	gross_amount, commission_rate, commission_amount, currency, period_start, period_end,
	status, payable, reversal_reason, payout_batch_id, created_at, updated_at, reversed_at, paid_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, e *domain.Entry) (bool, error) {
	return referralsdb.InsertIgnoring(ctx, db,
		`INSERT INTO commission_entries (
			id, partner_id, attribution_id, payment_id, invoice_id, subscription_id,
			gross_amount, commission_rate, commission_amount, currency, period_start, period_end,
			status, payable, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"payment_id",
		e.ID,
		e.PartnerID,
		e.AttributionID,
		e.PaymentID,
		e.InvoiceID,
		e.SubscriptionID,
		e.GrossAmount,
		e.CommissionRate,
		e.CommissionAmount,
		e.Currency,
		e.PeriodStart,
		e.PeriodEnd,
		string(e.Status),
		e.Payable,
		e.CreatedAt,
		e.UpdatedAt,
	)
}

func (r *repo) FindByPayment(ctx context.Context, db *gorm.DB, paymentID string) (*domain.Entry, error) {
	var out domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM commission_entries WHERE payment_id = ?`,
		paymentID,
	).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, nil
	}
	return &out, nil
}

func (r *repo) Reverse(ctx context.Context, db *gorm.DB, paymentID, reason string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE commission_entries SET
			status = ?, reversal_reason = ?, reversed_at = ?, updated_at = ?, payout_batch_id = NULL
		 WHERE payment_id = ? AND status = ?`,
		string(domain.StatusReversed),
		reason,
		at,
		at,
		paymentID,
		string(domain.StatusAccrued),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Entry, error) {
	var entries []domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{})
	if filter.PartnerID != 0 {
		stmt = stmt.Where("partner_id = ?", filter.PartnerID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
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
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) Summary(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) ([]domain.CurrencySummary, error) {
	var rows []domain.CurrencySummary
	err := db.WithContext(ctx).Raw(
		`SELECT currency,
			COALESCE(SUM(CASE WHEN status = 'accrued' AND payable = ? THEN commission_amount ELSE 0 END), 0) AS accrued,
			COALESCE(SUM(CASE WHEN status = 'accrued' AND payable = ? THEN commission_amount ELSE 0 END), 0) AS held,
			COALESCE(SUM(CASE WHEN status = 'paid' THEN commission_amount ELSE 0 END), 0) AS paid,
			COALESCE(SUM(CASE WHEN status = 'reversed' THEN commission_amount ELSE 0 END), 0) AS reversed,
			COUNT(1) AS entries
		 FROM commission_entries
		 WHERE partner_id = ?
		 GROUP BY currency
		 ORDER BY currency`,
		true,
		false,
		partnerID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ReleaseHeld(ctx context.Context, db *gorm.DB, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE commission_entries SET payable = ?, updated_at = ?
		 WHERE status = ? AND payable = ?
		 AND partner_id IN (SELECT id FROM partners WHERE status = 'active')`,
		true,
		at,
		string(domain.StatusAccrued),
		false,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) PayableGroups(ctx context.Context, db *gorm.DB, currency string) ([]domain.PayoutGroup, error) {
	var groups []domain.PayoutGroup
	err := db.WithContext(ctx).Raw(
		`SELECT e.partner_id AS partner_id,
			SUM(e.commission_amount) AS amount,
			COUNT(1) AS entry_count
		 FROM commission_entries e
		 JOIN partners p ON p.id = e.partner_id
		 WHERE e.status = ? AND e.payable = ? AND e.payout_batch_id IS NULL
		 AND e.currency = ? AND p.status = 'active'
		 GROUP BY e.partner_id
		 ORDER BY e.partner_id`,
		string(domain.StatusAccrued),
		true,
		currency,
	).Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repo) AssignBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID, partnerIDs []snowflake.ID, currency string, at time.Time) (int64, error) {
	if len(partnerIDs) == 0 {
		return 0, nil
	}
	ids := make([]int64, 0, len(partnerIDs))
	for _, id := range partnerIDs {
		ids = append(ids, int64(id))
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE commission_entries SET payout_batch_id = ?, updated_at = ?
		 WHERE status = ? AND payable = ? AND payout_batch_id IS NULL
		 AND currency = ? AND partner_id IN ?`,
		batchID,
		at,
		string(domain.StatusAccrued),
		true,
		currency,
		ids,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) HoldIneligible(ctx context.Context, db *gorm.DB, batchID snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE commission_entries SET payout_batch_id = NULL, payable = ?, updated_at = ?
		 WHERE payout_batch_id = ? AND status = ?
		 AND partner_id NOT IN (SELECT id FROM partners WHERE status = 'active')`,
		false,
		at,
		batchID,
		string(domain.StatusAccrued),
	)
	return result.RowsAffected, result.Error
}

func (r *repo) MarkBatchPaid(ctx context.Context, db *gorm.DB, batchID snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE commission_entries SET status = ?, paid_at = ?, updated_at = ?
		 WHERE payout_batch_id = ? AND status = ?`,
		string(domain.StatusPaid),
		at,
		at,
		batchID,
		string(domain.StatusAccrued),
	)
	return result.RowsAffected, result.Error
}

func (r *repo) BatchGroups(ctx context.Context, db *gorm.DB, batchID snowflake.ID, status domain.Status) ([]domain.PayoutGroup, error) {
	var groups []domain.PayoutGroup
	err := db.WithContext(ctx).Raw(
		`SELECT partner_id, SUM(commission_amount) AS amount, COUNT(1) AS entry_count
		 FROM commission_entries
		 WHERE payout_batch_id = ? AND status = ?
		 GROUP BY partner_id
		 ORDER BY partner_id`,
		batchID,
		string(status),
	).Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}
