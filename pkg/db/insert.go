package db

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// InsertIgnoring executes a single-row INSERT and skips the row when it
// collides with the unique key on target. It reports whether a row was
// written.
func InsertIgnoring(ctx context.Context, tx *gorm.DB, insert, target string, args ...any) (bool, error) {
	result := tx.WithContext(ctx).Exec(insertIgnoringSQL(tx.Dialector.Name(), insert, target), args...)
	return result.RowsAffected > 0, result.Error
}

// mysql has no ON CONFLICT; INSERT IGNORE reports zero affected rows on a
// duplicate key instead.
func insertIgnoringSQL(dialect, insert, target string) string {
	insert = strings.TrimSpace(insert)
	if dialect == "mysql" {
		return "INSERT IGNORE" + strings.TrimPrefix(insert, "INSERT")
	}
	return insert + " ON CONFLICT (" + target + ") DO NOTHING"
}
