package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
)

type Reason string

const (
	ReasonAttributed        Reason = "attributed"
	ReasonInvalidCode       Reason = "invalid_code"
	ReasonAlreadyAttributed Reason = "already_attributed"
	ReasonSelfReferral      Reason = "self_referral"
	ReasonUnavailable       Reason = "unavailable"
)

type AttributeRequest struct {
	IdentityID string   `json:"identity_id"`
	Code       string   `json:"code"`
	Metadata   Metadata `json:"metadata"`
}

// Result is the outcome of one attribution attempt. Only Success carries
// the partner and rate.
type Result struct {
	Success        bool             `json:"success"`
	PartnerID      *snowflake.ID    `json:"partner_id,omitempty"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
	AttributionID  *snowflake.ID    `json:"attribution_id,omitempty"`
	Reason         Reason           `json:"reason"`
}

type ListAttributionRequest struct {
	pagination.Pagination
	PartnerID snowflake.ID
	Status    Status
}

type ListAttributionResponse struct {
	pagination.PageInfo
	Attributions []Attribution `json:"attributions"`
}

type Service interface {
	// Attribute links identity to the partner owning code, first attempt wins.
	// Unknown codes and repeat attempts are results, not errors.
	Attribute(context.Context, AttributeRequest) (Result, error)
	// AttributeBestEffort never fails; errors are logged.
	AttributeBestEffort(context.Context, AttributeRequest) Result
	GetByIdentity(ctx context.Context, identityID string) (Attribution, error)
	ListByPartner(context.Context, ListAttributionRequest) (ListAttributionResponse, error)
}

var (
	ErrNotFound = errors.New("attribution_not_found")
)
