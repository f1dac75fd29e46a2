package db

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestInsertIgnoringSQL(t *testing.T) {
	insert := "INSERT INTO partners (id, account_id) VALUES (?, ?)"

	assert.Equal(t, insert+" ON CONFLICT (account_id) DO NOTHING", insertIgnoringSQL("postgres", insert, "account_id"))
	assert.Equal(t, insert+" ON CONFLICT (account_id) DO NOTHING", insertIgnoringSQL("sqlite", "  "+insert+"\n", "account_id"))
	assert.Equal(t, "INSERT IGNORE INTO partners (id, account_id) VALUES (?, ?)", insertIgnoringSQL("mysql", insert, "account_id"))
}

func TestInsertIgnoringSkipsDuplicates(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:insert_ignoring?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(`CREATE TABLE codes (id INTEGER PRIMARY KEY, code TEXT NOT NULL UNIQUE)`).Error)
	ctx := context.Background()

	written, err := InsertIgnoring(ctx, conn, `INSERT INTO codes (id, code) VALUES (?, ?)`, "code", 1, "ACME")
	require.NoError(t, err)
	assert.True(t, written)

	written, err = InsertIgnoring(ctx, conn, `INSERT INTO codes (id, code) VALUES (?, ?)`, "code", 2, "ACME")
	require.NoError(t, err)
	assert.False(t, written)

	var count int64
	require.NoError(t, conn.Raw(`SELECT COUNT(1) FROM codes`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}
