package server

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/referrals/internal/audit/domain"
	authdomain "github.com/smallbiznis/referrals/internal/auth/domain"
	"github.com/smallbiznis/referrals/internal/authorization"
	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	commissiondomain "github.com/smallbiznis/referrals/internal/commission/domain"
	conversiondomain "github.com/smallbiznis/referrals/internal/conversion/domain"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	paymentdomain "github.com/smallbiznis/referrals/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/referrals/internal/payout/domain"
	"github.com/smallbiznis/referrals/internal/ratelimit"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	signupdomain "github.com/smallbiznis/referrals/internal/signup/domain"
	"github.com/smallbiznis/referrals/internal/validation"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, err.Error()
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if fields := validation.Fields(err); fields != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  fieldErrors(fields),
		}
	}

	if isValidationError(err) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(err),
					Code:    err.Error(),
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrMissingToken),
		errors.Is(err, authdomain.ErrInvalidToken):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, authdomain.ErrNotConfigured),
		errors.Is(err, paymentdomain.ErrInvalidConfig):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func fieldErrors(fields map[string]string) []ValidationError {
	out := make([]ValidationError, 0, len(fields))
	for field, rule := range fields {
		out = append(out, ValidationError{Field: field, Code: rule, Message: "invalid value"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// validationFields names the request field behind each domain validation error.
var validationFields = []struct {
	err   error
	field string
}{
	{ErrInvalidRequest, "request"},
	{signupdomain.ErrInvalidRequest, "request"},
	{pagination.ErrInvalidPageToken, "page_token"},
	{partnerdomain.ErrInvalidReviewNote, "note"},
	{partnerdomain.ErrInvalidRate, "commission_rate"},
	{partnerdomain.ErrInvalidReviewer, "reviewer_id"},
	{partnerdomain.ErrInvalidStatus, "status"},
	{codedomain.ErrInvalidFormat, "code"},
	{codedomain.ErrReserved, "code"},
	{commissiondomain.ErrInvalidAmount, "gross_amount"},
	{commissiondomain.ErrInvalidCurrency, "currency"},
	{commissiondomain.ErrInvalidPeriod, "billing_period"},
	{conversiondomain.ErrInvalidValue, "conversion_value"},
	{conversiondomain.ErrInvalidCurrency, "currency"},
	{payoutdomain.ErrInvalidCurrency, "currency"},
	{auditdomain.ErrInvalidAction, "action"},
	{paymentdomain.ErrInvalidProvider, "provider"},
	{paymentdomain.ErrInvalidSignature, "signature"},
	{paymentdomain.ErrInvalidPayload, "payload"},
	{paymentdomain.ErrInvalidEvent, "payload"},
}

func isValidationError(err error) bool {
	return validationErrorField(err) != ""
}

func validationErrorField(err error) string {
	for _, v := range validationFields {
		if errors.Is(err, v.err) {
			return v.field
		}
	}
	return ""
}

var conflictErrors = []error{
	ErrConflict,
	partnerdomain.ErrAlreadyApplied,
	partnerdomain.ErrInvalidTransition,
	codedomain.ErrAlreadyExists,
	codedomain.ErrPartnerNotActive,
	commissiondomain.ErrPartnerNotEligible,
	commissiondomain.ErrAttributionMismatch,
	payoutdomain.ErrInvalidTransition,
	payoutdomain.ErrBatchInProgress,
	payoutdomain.ErrNothingToPay,
	ratelimit.ErrLockHeld,
}

func isConflictError(err error) bool {
	return conflictMessage(err) != ""
}

// conflictMessage returns the domain code so clients can tell conflicts apart.
func conflictMessage(err error) string {
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, partnerdomain.ErrNotFound),
		errors.Is(err, codedomain.ErrNotFound),
		errors.Is(err, attributiondomain.ErrNotFound),
		errors.Is(err, commissiondomain.ErrNotFound),
		errors.Is(err, commissiondomain.ErrAttributionNotFound),
		errors.Is(err, payoutdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
