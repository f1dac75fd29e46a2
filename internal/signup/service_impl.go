package signup

import (
	"context"
	"strings"

	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	"github.com/smallbiznis/referrals/internal/signup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const signupSource = "signup"

type Params struct {
	fx.In

	Log          *zap.Logger
	Attributions attributiondomain.Service
	Provisioner  domain.Provisioner
}

type service struct {
	log          *zap.Logger
	attributions attributiondomain.Service
	provisioner  domain.Provisioner
}

func NewService(p Params) domain.Service {
	return &service{
		log:          p.Log.Named("signup.service"),
		attributions: p.Attributions,
		provisioner:  p.Provisioner,
	}
}

func (s *service) CompleteSignup(ctx context.Context, req domain.Request) (*domain.Result, error) {
	identityID := strings.TrimSpace(req.IdentityID)
	if identityID == "" {
		return nil, domain.ErrInvalidRequest
	}

	if err := s.provisioner.Provision(ctx, identityID); err != nil {
		return nil, err
	}

	result := &domain.Result{IdentityID: identityID}
	code := strings.TrimSpace(req.ReferralCode)
	if code == "" {
		return result, nil
	}

	metadata := req.Metadata
	if metadata.Source == "" {
		metadata.Source = signupSource
	}
	referral := s.attributions.AttributeBestEffort(ctx, attributiondomain.AttributeRequest{
		IdentityID: identityID,
		Code:       code,
		Metadata:   metadata,
	})
	if !referral.Success {
		s.log.Info("signup completed without referral",
			zap.String("identity_id", identityID),
			zap.String("reason", string(referral.Reason)),
		)
	}
	result.Referral = &referral
	return result, nil
}
