package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "INSERT", operationFromSQL("INSERT INTO attributions (id) VALUES (?) ON CONFLICT (identity_id) DO NOTHING"))
	assert.Equal(t, "UPDATE", operationFromSQL("  update partners set status = ?"))
	assert.Equal(t, "SELECT", operationFromSQL("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestParamsFilterDropsValues(t *testing.T) {
	l := NewGormLogger(DefaultGormLoggerConfig())
	sql, params := l.ParamsFilter(context.Background(), "SELECT * FROM attributions WHERE identity_id = ?", "usr_1")
	assert.Equal(t, "SELECT * FROM attributions WHERE identity_id = ?", sql)
	assert.Nil(t, params)
}
