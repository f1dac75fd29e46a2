package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/referrals/internal/commission/domain"
	"github.com/smallbiznis/referrals/internal/payout/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, b *domain.Batch) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payout_batches (
			id, currency, status, total_amount, entry_count, partner_count, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.Currency,
		string(b.Status),
		b.TotalAmount,
		b.EntryCount,
		b.PartnerCount,
		b.CreatedBy,
		b.CreatedAt,
	).Error
}

func (r *repo) InsertItem(ctx context.Context, db *gorm.DB, item *domain.Item) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payout_items (id, batch_id, partner_id, amount, entry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.BatchID,
		item.PartnerID,
		item.Amount,
		item.EntryCount,
		item.CreatedAt,
	).Error
}

func (r *repo) FindBatch(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	var out domain.Batch
	err := db.WithContext(ctx).Raw(
		`SELECT id, currency, status, total_amount, entry_count, partner_count, created_by, created_at, paid_at
		 FROM payout_batches WHERE id = ?`,
		id,
	).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, nil
	}
	return &out, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]domain.Item, error) {
	var items []domain.Item
	err := db.WithContext(ctx).
		Model(&domain.Item{}).
		Where("batch_id = ?", batchID).
		Order("partner_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Batch, error) {
	var batches []domain.Batch
	stmt := db.WithContext(ctx).Model(&domain.Batch{})
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
	if err := stmt.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payout_batches SET status = ?, paid_at = ? WHERE id = ? AND status = ?`,
		string(domain.StatusPaid),
		at,
		id,
		string(domain.StatusOpen),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SetTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, groups []commissiondomain.PayoutGroup) error {
	if err := db.WithContext(ctx).Exec(
		`UPDATE payout_items SET amount = 0, entry_count = 0 WHERE batch_id = ?`, id,
	).Error; err != nil {
		return err
	}

	var total int64
	var entries int
	for _, g := range groups {
		total += g.Amount
		entries += g.EntryCount
		if err := db.WithContext(ctx).Exec(
			`UPDATE payout_items SET amount = ?, entry_count = ? WHERE batch_id = ? AND partner_id = ?`,
			g.Amount, g.EntryCount, id, g.PartnerID,
		).Error; err != nil {
			return err
		}
	}
	return db.WithContext(ctx).Exec(
		`UPDATE payout_batches SET total_amount = ?, entry_count = ?, partner_count = ? WHERE id = ?`,
		total, entries, len(groups), id,
	).Error
}
