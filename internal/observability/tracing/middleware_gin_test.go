package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestSpanName(t *testing.T) {
	assert.Equal(t, "HTTP POST", spanName("post", ""))
	assert.Equal(t, "HTTP GET /api/referrals/codes/:code", spanName("GET", "/api/referrals/codes/:code"))
}

func TestGinMiddlewareSkipsProbes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())

	var traced bool
	r.GET("/health", func(c *gin.Context) {
		traced = trace.SpanFromContext(c.Request.Context()).SpanContext().IsValid()
		c.Status(http.StatusOK)
	})
	r.GET("/api/ping", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, traced)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
