package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
)

type ApplyRequest struct {
	AccountID   string `json:"account_id" validate:"required,notblank,max=128"`
	DisplayName string `json:"display_name" validate:"required,notblank,max=120"`
	Email       string `json:"email" validate:"required,email,max=254"`
}

type ApproveRequest struct {
	PartnerID  snowflake.ID
	ReviewerID string
	// CommissionRate overrides the program default when set.
	CommissionRate *decimal.Decimal
	Note           string
}

type RejectRequest struct {
	PartnerID  snowflake.ID
	ReviewerID string
	Reason     string
}

type TransitionRequest struct {
	PartnerID snowflake.ID
	ActorID   string
	Note      string
}

type ListPartnerRequest struct {
	pagination.Pagination
	Status Status
}

type ListPartnerResponse struct {
	pagination.PageInfo
	Partners []Partner `json:"partners"`
}

type Service interface {
	Apply(context.Context, ApplyRequest) (Partner, error)
	Approve(context.Context, ApproveRequest) (Partner, error)
	Reject(context.Context, RejectRequest) (Partner, error)
	Suspend(context.Context, TransitionRequest) (Partner, error)
	Deactivate(context.Context, TransitionRequest) (Partner, error)
	Terminate(context.Context, TransitionRequest) (Partner, error)
	// Reactivate returns a suspended or inactive partner to active.
	Reactivate(context.Context, TransitionRequest) (Partner, error)
	// UpdateRate changes the live rate. Existing attributions keep their snapshot.
	UpdateRate(ctx context.Context, id snowflake.ID, rate decimal.Decimal) (Partner, error)
	Get(ctx context.Context, id snowflake.ID) (Partner, error)
	GetByAccount(ctx context.Context, accountID string) (Partner, error)
	List(context.Context, ListPartnerRequest) (ListPartnerResponse, error)
	RecomputeStats(ctx context.Context, id snowflake.ID) (Partner, error)
}

var (
	ErrNotFound          = errors.New("partner_not_found")
	ErrAlreadyApplied    = errors.New("partner_already_applied")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidReviewNote = errors.New("invalid_review_note")
	ErrInvalidRate       = errors.New("invalid_commission_rate")
	ErrInvalidReviewer   = errors.New("invalid_reviewer")
	ErrInvalidStatus     = errors.New("invalid_status")
)

// ValidRate reports whether rate lies strictly between 0 and 1.
func ValidRate(rate decimal.Decimal) bool {
	return rate.GreaterThan(decimal.Zero) && rate.LessThan(decimal.NewFromInt(1))
}

func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case "", StatusPending, StatusActive, StatusRejected, StatusSuspended, StatusInactive, StatusTerminated:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}
