package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/referrals/internal/auth/domain"
	obscontext "github.com/smallbiznis/referrals/internal/observability/context"
)

const (
	ContextIdentityKey = "identity"
	contextActorIDKey  = "actor_id"
)

// IdentityRequired rejects requests without a valid bearer token and stores
// the identity on both the gin and request contexts.
func IdentityRequired(v domain.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			_ = c.Error(domain.ErrMissingToken)
			c.Abort()
			return
		}

		identity, err := v.Verify(token)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		ctx := domain.WithIdentity(c.Request.Context(), identity)
		ctx = obscontext.WithActor(ctx, "identity", identity.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextIdentityKey, identity)
		c.Set(contextActorIDKey, identity.Subject)
		c.Next()
	}
}

// Identity returns the identity set by IdentityRequired.
func Identity(c *gin.Context) (domain.Identity, bool) {
	if v, ok := c.Get(ContextIdentityKey); ok {
		if id, ok := v.(domain.Identity); ok {
			return id, true
		}
	}
	return domain.IdentityFromContext(c.Request.Context())
}
