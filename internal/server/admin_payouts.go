package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/referrals/internal/payout/domain"
)

type createPayoutRequest struct {
	Currency string `json:"currency"`
}

func (s *Server) CreatePayout(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req createPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	batch, err := s.payoutSvc.CreateBatch(c.Request.Context(), payoutdomain.CreateBatchRequest{
		Currency:  req.Currency,
		CreatedBy: identity.Subject,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": batch})
}

func (s *Server) ListPayouts(c *gin.Context) {
	var query listByStatusQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status := payoutdomain.Status(strings.TrimSpace(query.Status))
	switch status {
	case "", payoutdomain.StatusOpen, payoutdomain.StatusPaid:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	resp, err := s.payoutSvc.List(c.Request.Context(), payoutdomain.ListBatchRequest{
		Pagination: query.Pagination,
		Status:     status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayout(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	batch, err := s.payoutSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batch})
}

func (s *Server) MarkPayoutPaid(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	batch, err := s.payoutSvc.MarkPaid(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batch})
}
