package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorTypeDeadlineExceeded, ClassifyError(fmt.Errorf("dispatch: %w", context.DeadlineExceeded)))
	assert.Equal(t, ErrorTypeUniqueViolation, ClassifyError(&pgconn.PgError{Code: "23505"}))
	assert.Equal(t, ErrorTypeSerialization, ClassifyError(&pgconn.PgError{Code: "40001"}))
	assert.Equal(t, ErrorTypeLockTimeout, ClassifyError(&pgconn.PgError{Code: "55P03"}))
	assert.Equal(t, ErrorTypeDB, ClassifyError(gorm.ErrInvalidDB))
	assert.Equal(t, ErrorTypeUnknown, ClassifyError(gorm.ErrRecordNotFound))
	assert.Equal(t, ErrorTypeUnknown, ClassifyError(errors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(nil))
}

func TestGinMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := newHTTPMetrics(reg, Config{ServiceName: "referrals", Environment: "test"})
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/health", "200")))
}

func TestWorkerMetricsRegistersTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := newWorkerMetrics(reg, Config{})
	require.NoError(t, err)
	first.ObserveRun("outbox", 10*time.Millisecond)
	first.AddItems("outbox", "dispatched", 3)
	first.IncError("outbox", context.Canceled)

	second, err := newWorkerMetrics(reg, Config{})
	require.NoError(t, err)
	second.AddItems("outbox", "dispatched", 1)
	assert.Equal(t, float64(4), testutil.ToFloat64(first.batch.WithLabelValues("outbox", "dispatched")))
}
