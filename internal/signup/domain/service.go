package domain

import (
	"context"
	"errors"

	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
)

type Service interface {
	// CompleteSignup finishes account creation for identity. Referral capture
	// is best-effort; a bad or unknown code never fails the signup.
	CompleteSignup(ctx context.Context, req Request) (*Result, error)
}

type Request struct {
	IdentityID   string                     `json:"identity_id"`
	ReferralCode string                     `json:"referral_code"`
	Metadata     attributiondomain.Metadata `json:"metadata"`
}

type Result struct {
	IdentityID string                    `json:"identity_id"`
	Referral   *attributiondomain.Result `json:"referral,omitempty"`
}

// Provisioner announces a completed signup to downstream consumers.
type Provisioner interface {
	Provision(ctx context.Context, identityID string) error
}

var ErrInvalidRequest = errors.New("invalid signup request")
