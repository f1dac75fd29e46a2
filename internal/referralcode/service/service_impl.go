package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/referrals/internal/audit/domain"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	partnerdomain "github.com/smallbiznis/referrals/internal/partner/domain"
	"github.com/smallbiznis/referrals/internal/referralcode/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Partners partnerdomain.Repository
	Program  *config.ProgramConfigHolder
	Audit    auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	partners partnerdomain.Repository
	program  *config.ProgramConfigHolder
	audit    auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("referralcode.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		partners: p.Partners,
		program:  p.Program,
		audit:    p.Audit,
	}
}

// Normalize uppercases and trims a user-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validFormat(code string, program config.ProgramConfig) bool {
	if len(code) < program.CodeMinLength || len(code) > program.CodeMaxLength {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.Code, error) {
	program := s.program.Get()
	code := Normalize(req.Code)
	if !validFormat(code, program) {
		return domain.Code{}, domain.ErrInvalidFormat
	}
	if program.IsReserved(code) {
		return domain.Code{}, domain.ErrReserved
	}

	out := domain.Code{
		Code:      code,
		PartnerID: req.PartnerID,
		Active:    true,
		CreatedAt: s.clock.Now(),
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		out.Description = &desc
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		partner, err := s.partners.FindByID(ctx, tx, req.PartnerID)
		if err != nil {
			return err
		}
		if partner == nil || partner.Status != partnerdomain.StatusActive {
			return domain.ErrPartnerNotActive
		}
		inserted, err := s.repo.Insert(ctx, tx, &out)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrAlreadyExists
		}
		if s.audit == nil {
			return nil
		}
		return s.audit.RecordTx(ctx, tx, auditdomain.Entry{
			Action:     "code.register",
			TargetType: "referral_code",
			TargetID:   code,
			Metadata:   map[string]any{"partner_id": req.PartnerID.String()},
		})
	})
	if err != nil {
		return domain.Code{}, err
	}

	s.log.Info("referral code registered",
		zap.String("code", code),
		zap.String("partner_id", req.PartnerID.String()),
	)
	return out, nil
}

func (s *Service) SuggestCode(displayName string) string {
	program := s.program.Get()
	var b strings.Builder
	for _, r := range strings.ToUpper(slug.Make(displayName)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	code := b.String()
	if len(code) > program.CodeMaxLength {
		code = code[:program.CodeMaxLength]
	}
	for len(code) < program.CodeMinLength {
		code += "X"
	}
	if program.IsReserved(code) {
		if len(code) >= program.CodeMaxLength {
			code = code[:program.CodeMaxLength-1]
		}
		code += "1"
	}
	return code
}

func (s *Service) Resolve(ctx context.Context, code string) (domain.Resolution, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return domain.Resolution{}, domain.ErrNotFound
	}
	found, err := s.repo.Lookup(ctx, s.db, normalized)
	if err != nil {
		return domain.Resolution{}, err
	}
	if found == nil || !found.Active || found.PartnerStatus != string(partnerdomain.StatusActive) {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return domain.Resolution{
		Code:           found.Code,
		PartnerID:      found.PartnerID,
		PartnerAccount: found.PartnerAccount,
		CommissionRate: found.CommissionRate,
		Active:         true,
	}, nil
}

func (s *Service) Inspect(ctx context.Context, code string) (domain.Inspection, error) {
	normalized := Normalize(code)
	found, err := s.repo.FindByCode(ctx, s.db, normalized)
	if err != nil {
		return domain.Inspection{}, err
	}
	if found == nil {
		return domain.Inspection{}, domain.ErrNotFound
	}

	out := domain.Inspection{Code: *found, State: domain.StateActive}
	partner, err := s.partners.FindByID(ctx, s.db, found.PartnerID)
	if err != nil {
		return domain.Inspection{}, err
	}
	if partner != nil {
		out.PartnerStatus = string(partner.Status)
	}
	switch {
	case !found.Active:
		out.State = domain.StateDisabled
	case partner == nil || partner.Status != partnerdomain.StatusActive:
		out.State = domain.StatePartnerInactive
	}
	return out, nil
}

func (s *Service) Disable(ctx context.Context, code string) (domain.Code, error) {
	normalized := Normalize(code)
	var out domain.Code
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changed, err := s.repo.Disable(ctx, tx, normalized, s.clock.Now())
		if err != nil {
			return err
		}
		found, err := s.repo.FindByCode(ctx, tx, normalized)
		if err != nil {
			return err
		}
		if found == nil {
			return domain.ErrNotFound
		}
		out = *found
		if !changed || s.audit == nil {
			return nil
		}
		return s.audit.RecordTx(ctx, tx, auditdomain.Entry{
			Action:     "code.disable",
			TargetType: "referral_code",
			TargetID:   normalized,
			Metadata:   map[string]any{"partner_id": found.PartnerID.String()},
		})
	})
	if err != nil {
		return domain.Code{}, err
	}
	return out, nil
}

func (s *Service) RecordUse(ctx context.Context, code string) error {
	updated, err := s.repo.IncrementUsage(ctx, s.db, Normalize(code), s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) ListByPartner(ctx context.Context, partnerID snowflake.ID) ([]domain.Code, error) {
	return s.repo.ListByPartner(ctx, s.db, partnerID)
}
