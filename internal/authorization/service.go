package authorization

import (
	"context"
	"errors"

	authdomain "github.com/smallbiznis/referrals/internal/auth/domain"
)

const (
	ObjectPartner    = "partner"
	ObjectCode       = "referral_code"
	ObjectCommission = "commission"
	ObjectPayout     = "payout"
	ObjectAuditLog   = "audit_log"
)

const (
	ActionPartnerReview    = "partner.review"
	ActionPartnerManage    = "partner.manage"
	ActionCodeManage       = "code.manage"
	ActionCommissionManage = "commission.manage"
	ActionPayoutManage     = "payout.manage"
	ActionAuditLogView     = "audit_log.view"
)

const (
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"
	RoleFinance  = "finance"
)

var actionObjects = map[string]string{
	ActionPartnerReview:    ObjectPartner,
	ActionPartnerManage:    ObjectPartner,
	ActionCodeManage:       ObjectCode,
	ActionCommissionManage: ObjectCommission,
	ActionPayoutManage:     ObjectPayout,
	ActionAuditLogView:     ObjectAuditLog,
}

type Service interface {
	// Authorize returns nil when identity may perform action.
	Authorize(ctx context.Context, identity authdomain.Identity, action string) error
	// GrantRole persists a role for subject.
	GrantRole(ctx context.Context, subject, role string) error
	RevokeRole(ctx context.Context, subject, role string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidRole   = errors.New("invalid_role")
)
