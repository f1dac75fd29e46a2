package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/referrals/internal/auth"
	authdomain "github.com/smallbiznis/referrals/internal/auth/domain"
)

// authorizeAction gates a route on the policy for action. It must run after
// auth.IdentityRequired.
func (s *Server) authorizeAction(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := auth.Identity(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), identity, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func requireIdentity(c *gin.Context) (authdomain.Identity, bool) {
	identity, ok := auth.Identity(c)
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		AbortWithError(c, ErrUnauthorized)
		return authdomain.Identity{}, false
	}
	return identity, true
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
