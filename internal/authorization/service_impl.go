package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/referrals/internal/audit/domain"
	authdomain "github.com/smallbiznis/referrals/internal/auth/domain"
	"github.com/smallbiznis/referrals/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

var knownRoles = map[string]struct{}{
	RoleAdmin:    {},
	RoleReviewer: {},
	RoleFinance:  {},
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

type EnforcerParams struct {
	fx.In

	DB     *gorm.DB
	Config config.Config
	Log    *zap.Logger
}

// ProvideEnforcer builds the policy store and seeds the admin allowlist.
func ProvideEnforcer(p EnforcerParams) (*casbin.SyncedEnforcer, error) {
	enforcer, err := NewEnforcer(p.DB)
	if err != nil {
		return nil, err
	}
	for _, subject := range p.Config.AdminIdentities {
		if _, err := enforcer.AddGroupingPolicy(subjectOf(subject), roleOf(RoleAdmin)); err != nil {
			return nil, err
		}
	}
	p.Log.Named("authorization").Info("policy loaded", zap.Int("admins", len(p.Config.AdminIdentities)))
	return enforcer, nil
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, identity authdomain.Identity, action string) error {
	subject := strings.TrimSpace(identity.Subject)
	if subject == "" {
		return ErrInvalidActor
	}
	action = strings.TrimSpace(action)
	object, ok := actionObjects[action]
	if !ok {
		return ErrInvalidAction
	}

	// Persisted grants first, then roles carried by the token.
	candidates := []string{subjectOf(subject)}
	for _, role := range identity.Roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if _, known := knownRoles[role]; known {
			candidates = append(candidates, roleOf(role))
		}
	}
	for _, sub := range candidates {
		allowed, err := s.enforcer.Enforce(sub, object, action)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}

	s.auditDenied(ctx, subject, object, action)
	return ErrForbidden
}

func (s *ServiceImpl) GrantRole(ctx context.Context, subject, role string) error {
	sub, roleName, err := grouping(subject, role)
	if err != nil {
		return err
	}
	if _, err := s.enforcer.AddGroupingPolicy(sub, roleName); err != nil {
		return err
	}
	s.log.Info("role granted", zap.String("subject", subject), zap.String("role", role))
	return nil
}

func (s *ServiceImpl) RevokeRole(ctx context.Context, subject, role string) error {
	sub, roleName, err := grouping(subject, role)
	if err != nil {
		return err
	}
	_, err = s.enforcer.RemoveGroupingPolicy(sub, roleName)
	return err
}

func grouping(subject, role string) (string, string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", "", ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if _, ok := knownRoles[role]; !ok {
		return "", "", ErrInvalidRole
	}
	return subjectOf(subject), roleOf(role), nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, subject, object, action string) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.RecordTx(ctx, s.db.WithContext(ctx), auditdomain.Entry{
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object":  object,
			"action":  action,
			"subject": subject,
		},
	})
	if err != nil {
		s.log.Warn("audit authorization denial failed", zap.Error(err))
	}
}

func subjectOf(identity string) string { return "identity:" + strings.TrimSpace(identity) }

func roleOf(role string) string { return "role:" + role }

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:admin", ObjectPartner, ActionPartnerReview},
		{"role:admin", ObjectPartner, ActionPartnerManage},
		{"role:admin", ObjectCode, ActionCodeManage},
		{"role:admin", ObjectCommission, ActionCommissionManage},
		{"role:admin", ObjectPayout, ActionPayoutManage},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},

		{"role:reviewer", ObjectPartner, ActionPartnerReview},
		{"role:reviewer", ObjectCode, ActionCodeManage},

		{"role:finance", ObjectCommission, ActionCommissionManage},
		{"role:finance", ObjectPayout, ActionPayoutManage},
		{"role:finance", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
