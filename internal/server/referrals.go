package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
)

type attributeRequest struct {
	IdentityID string                     `json:"identity_id"`
	Code       string                     `json:"code"`
	Metadata   attributiondomain.Metadata `json:"metadata"`
}

func (s *Server) Attribute(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req attributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	// Callers may only attribute themselves.
	if id := strings.TrimSpace(req.IdentityID); id != "" && id != identity.Subject {
		AbortWithError(c, ErrForbidden)
		return
	}

	res, err := s.attributionSvc.Attribute(c.Request.Context(), attributiondomain.AttributeRequest{
		IdentityID: identity.Subject,
		Code:       req.Code,
		Metadata:   req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

// LookupCode backs the referral banner. It only says whether a code is usable.
func (s *Server) LookupCode(c *gin.Context) {
	_, err := s.codeSvc.Resolve(c.Request.Context(), c.Param("code"))
	if errors.Is(err, codedomain.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}
