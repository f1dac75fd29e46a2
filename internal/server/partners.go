package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	commissiondomain "github.com/smallbiznis/referrals/internal/commission/domain"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
)

type applyPartnerRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// ApplyPartner files an application for the calling identity.
func (s *Server) ApplyPartner(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req applyPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	email := req.Email
	if strings.TrimSpace(email) == "" {
		email = identity.Email
	}

	partner, err := s.partnerSvc.Apply(c.Request.Context(), partnerdomain.ApplyRequest{
		AccountID:   identity.Subject,
		DisplayName: req.DisplayName,
		Email:       email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": partner})
}

// myPartner loads the partner owned by the calling identity.
func (s *Server) myPartner(c *gin.Context) (partnerdomain.Partner, bool) {
	identity, ok := requireIdentity(c)
	if !ok {
		return partnerdomain.Partner{}, false
	}
	partner, err := s.partnerSvc.GetByAccount(c.Request.Context(), identity.Subject)
	if err != nil {
		AbortWithError(c, err)
		return partnerdomain.Partner{}, false
	}
	return partner, true
}

func (s *Server) GetMyPartner(c *gin.Context) {
	partner, ok := s.myPartner(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": partner})
}

type registerCodeRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// RegisterMyCode registers a code for the caller. An empty code is derived
// from the partner's display name.
func (s *Server) RegisterMyCode(c *gin.Context) {
	partner, ok := s.myPartner(c)
	if !ok {
		return
	}

	var req registerCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = s.codeSvc.SuggestCode(partner.DisplayName)
	}

	created, err := s.codeSvc.Register(c.Request.Context(), codedomain.RegisterRequest{
		PartnerID:   partner.ID,
		Code:        code,
		Description: req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": created})
}

func (s *Server) ListMyCodes(c *gin.Context) {
	partner, ok := s.myPartner(c)
	if !ok {
		return
	}

	codes, err := s.codeSvc.ListByPartner(c.Request.Context(), partner.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": codes})
}

// DisableMyCode soft-disables one of the caller's codes. Codes owned by
// other partners answer 404.
func (s *Server) DisableMyCode(c *gin.Context) {
	partner, ok := s.myPartner(c)
	if !ok {
		return
	}

	inspection, err := s.codeSvc.Inspect(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if inspection.Code.PartnerID != partner.ID {
		AbortWithError(c, codedomain.ErrNotFound)
		return
	}

	code, err := s.codeSvc.Disable(c.Request.Context(), inspection.Code.Code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": code})
}

type listByStatusQuery struct {
	pagination.Pagination
	Status string `form:"status"`
}

func (s *Server) ListMyCommissions(c *gin.Context) {
	partner, ok := s.myPartner(c)
	if !ok {
		return
	}

	var query listByStatusQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status := commissiondomain.Status(strings.TrimSpace(query.Status))
	switch status {
	case "", commissiondomain.StatusAccrued, commissiondomain.StatusReversed, commissiondomain.StatusPaid:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	resp, err := s.commissionSvc.ListByPartner(c.Request.Context(), commissiondomain.ListEntryRequest{
		Pagination: query.Pagination,
		PartnerID:  partner.ID,
		Status:     status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MyCommissionSummary(c *gin.Context) {
	partner, ok := s.myPartner(c)
	if !ok {
		return
	}

	summary, err := s.commissionSvc.Summary(c.Request.Context(), partner.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) ListMyAttributions(c *gin.Context) {
	partner, ok := s.myPartner(c)
	if !ok {
		return
	}

	var query listByStatusQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status := attributiondomain.Status(strings.TrimSpace(query.Status))
	switch status {
	case "", attributiondomain.StatusSignup, attributiondomain.StatusConverted, attributiondomain.StatusSubscribed:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	resp, err := s.attributionSvc.ListByPartner(c.Request.Context(), attributiondomain.ListAttributionRequest{
		Pagination: query.Pagination,
		PartnerID:  partner.ID,
		Status:     status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
