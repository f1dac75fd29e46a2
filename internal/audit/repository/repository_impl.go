package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/referrals/internal/audit/domain"
	"gorm.io/gorm"
)

const auditColumns = `id, actor_type, actor_id, action, target_type, target_id, metadata, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert is append-only; audit rows are never updated.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActorType, entry.ActorID, entry.Action,
		entry.TargetType, entry.TargetID, entry.Metadata, entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	eq := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	eq("action", filter.Action)
	eq("actor_id", filter.ActorID)
	eq("target_type", filter.TargetType)
	eq("target_id", filter.TargetID)
	if c := filter.Cursor; c != nil {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, c.CreatedAt, c.CreatedAt, c.ID)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit+1)
	}

	var logs []domain.AuditLog
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
