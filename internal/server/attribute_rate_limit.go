package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/referrals/internal/auth"
	"github.com/smallbiznis/referrals/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonIdentityRate = "identity-rate"

// AttributeRateLimit throttles attribution attempts per identity. It fails
// open when redis is unreachable so signup flows keep working.
func (s *Server) AttributeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.attributeLimits.Enabled() {
			c.Next()
			return
		}
		identity, ok := auth.Identity(c)
		if !ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res, err := s.attributeLimits.Allow(ctx, identity.Subject)
		if err != nil {
			logger.FromContext(ctx).Warn("attribute rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			endpoint := normalizeRateLimitEndpoint(c)
			logger.FromContext(ctx).Warn("attribute rate limit exceeded",
				zap.String("reason", rateLimitReasonIdentityRate),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonIdentityRate)

			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonIdentityRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
