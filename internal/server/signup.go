package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	signupdomain "github.com/smallbiznis/referrals/internal/signup/domain"
)

type completeSignupRequest struct {
	ReferralCode string                     `json:"referral_code"`
	Metadata     attributiondomain.Metadata `json:"metadata"`
}

func (s *Server) CompleteSignup(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req completeSignupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	res, err := s.signupSvc.CompleteSignup(c.Request.Context(), signupdomain.Request{
		IdentityID:   identity.Subject,
		ReferralCode: req.ReferralCode,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}
