package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const defaultReversalReason = "manual"

func (s *Server) GetCommission(c *gin.Context) {
	entry, err := s.commissionSvc.GetByPayment(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

type reverseCommissionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ReverseCommission(c *gin.Context) {
	var req reverseCommissionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultReversalReason
	}

	reversed, err := s.commissionSvc.ReverseCommission(c.Request.Context(), c.Param("paymentId"), reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"reversed": reversed}})
}
