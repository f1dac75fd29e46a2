package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
)

func (s *Server) ListPartners(c *gin.Context) {
	var query listByStatusQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.partnerSvc.List(c.Request.Context(), partnerdomain.ListPartnerRequest{
		Pagination: query.Pagination,
		Status:     partnerdomain.Status(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPartner(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	partner, err := s.partnerSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partner})
}

type approvePartnerRequest struct {
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
	Note           string           `json:"note"`
}

func (s *Server) ApprovePartner(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req approvePartnerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	partner, err := s.partnerSvc.Approve(c.Request.Context(), partnerdomain.ApproveRequest{
		PartnerID:      id,
		ReviewerID:     identity.Subject,
		CommissionRate: req.CommissionRate,
		Note:           req.Note,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partner})
}

type rejectPartnerRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) RejectPartner(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req rejectPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	partner, err := s.partnerSvc.Reject(c.Request.Context(), partnerdomain.RejectRequest{
		PartnerID:  id,
		ReviewerID: identity.Subject,
		Reason:     req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partner})
}

type transitionPartnerRequest struct {
	Note string `json:"note"`
}

type transitionFunc func(context.Context, partnerdomain.TransitionRequest) (partnerdomain.Partner, error)

// transitionPartner adapts one of the lifecycle operations to a handler.
func (s *Server) transitionPartner(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := requireIdentity(c)
		if !ok {
			return
		}
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}

		var req transitionPartnerRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				AbortWithError(c, invalidRequestError())
				return
			}
		}

		partner, err := fn(c.Request.Context(), partnerdomain.TransitionRequest{
			PartnerID: id,
			ActorID:   identity.Subject,
			Note:      req.Note,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"data": partner})
	}
}

type updateRateRequest struct {
	CommissionRate *decimal.Decimal `json:"commission_rate"`
}

func (s *Server) UpdatePartnerRate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req updateRateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CommissionRate == nil {
		AbortWithError(c, newValidationError("commission_rate", "required", "commission_rate is required"))
		return
	}

	partner, err := s.partnerSvc.UpdateRate(c.Request.Context(), id, *req.CommissionRate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partner})
}

func (s *Server) RecomputePartnerStats(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	partner, err := s.partnerSvc.RecomputeStats(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": partner})
}
