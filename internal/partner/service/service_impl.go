package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/referrals/internal/audit/domain"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/events"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	"github.com/smallbiznis/referrals/internal/partner/domain"
	"github.com/smallbiznis/referrals/internal/validation"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"github.com/smallbiznis/referrals/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Program *config.ProgramConfigHolder
	Outbox  *events.Outbox
	Audit   auditdomain.Service `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	program *config.ProgramConfigHolder
	outbox  *events.Outbox
	audit   auditdomain.Service
	metrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("partner.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		program: p.Program,
		outbox:  p.Outbox,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

func (s *Service) Apply(ctx context.Context, req domain.ApplyRequest) (domain.Partner, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validation.Struct(req); err != nil {
		return domain.Partner{}, err
	}

	// Applicants never choose their rate; the reviewer may override it on approval.
	rate := decimal.NewFromFloat(s.program.Get().DefaultCommissionRate)
	if !domain.ValidRate(rate) {
		return domain.Partner{}, domain.ErrInvalidRate
	}

	now := s.clock.Now()
	partner := domain.Partner{
		ID:             s.genID.Generate(),
		AccountID:      req.AccountID,
		DisplayName:    req.DisplayName,
		Email:          req.Email,
		Status:         domain.StatusPending,
		CommissionRate: rate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.Insert(ctx, tx, &partner)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrAlreadyApplied
		}
		if err := s.recordAudit(ctx, tx, "partner.apply", partner.ID, map[string]any{
			"account_id": partner.AccountID,
		}); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:          events.EventPartnerApplied,
			AggregateType: "partner",
			AggregateID:   partner.ID.String(),
			Payload:       eventPayload(partner),
		})
	})
	if err != nil {
		return domain.Partner{}, err
	}

	s.log.Info("partner application received",
		zap.String("partner_id", partner.ID.String()),
		zap.String("account_id", partner.AccountID),
	)
	return partner, nil
}

func (s *Service) Approve(ctx context.Context, req domain.ApproveRequest) (domain.Partner, error) {
	reviewer := strings.TrimSpace(req.ReviewerID)
	if reviewer == "" {
		return domain.Partner{}, domain.ErrInvalidReviewer
	}
	// The rate is fixed here: the reviewer's override or the current program default.
	rate := decimal.NewFromFloat(s.program.Get().DefaultCommissionRate)
	if req.CommissionRate != nil {
		rate = *req.CommissionRate
	}
	if !domain.ValidRate(rate) {
		return domain.Partner{}, domain.ErrInvalidRate
	}
	note := strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(note) > s.program.Get().ReviewNoteMaxLength {
		return domain.Partner{}, domain.ErrInvalidReviewNote
	}

	return s.transition(ctx, transitionSpec{
		id:     req.PartnerID,
		from:   []domain.Status{domain.StatusPending},
		to:     domain.StatusActive,
		action: "partner.approve",
		event:  events.EventPartnerApproved,
		fields: domain.TransitionFields{
			ReviewedBy:     reviewer,
			ReviewNote:     note,
			CommissionRate: &rate,
		},
	})
}

func (s *Service) Reject(ctx context.Context, req domain.RejectRequest) (domain.Partner, error) {
	reviewer := strings.TrimSpace(req.ReviewerID)
	if reviewer == "" {
		return domain.Partner{}, domain.ErrInvalidReviewer
	}
	reason := strings.TrimSpace(req.Reason)
	program := s.program.Get()
	if n := utf8.RuneCountInString(reason); n < program.ReviewNoteMinLength || n > program.ReviewNoteMaxLength {
		return domain.Partner{}, domain.ErrInvalidReviewNote
	}

	return s.transition(ctx, transitionSpec{
		id:     req.PartnerID,
		from:   []domain.Status{domain.StatusPending},
		to:     domain.StatusRejected,
		action: "partner.reject",
		event:  events.EventPartnerRejected,
		fields: domain.TransitionFields{
			ReviewedBy: reviewer,
			ReviewNote: reason,
		},
	})
}

func (s *Service) Suspend(ctx context.Context, req domain.TransitionRequest) (domain.Partner, error) {
	return s.manage(ctx, req, []domain.Status{domain.StatusActive, domain.StatusInactive}, domain.StatusSuspended, "partner.suspend")
}

func (s *Service) Deactivate(ctx context.Context, req domain.TransitionRequest) (domain.Partner, error) {
	return s.manage(ctx, req, []domain.Status{domain.StatusActive, domain.StatusSuspended}, domain.StatusInactive, "partner.deactivate")
}

func (s *Service) Terminate(ctx context.Context, req domain.TransitionRequest) (domain.Partner, error) {
	return s.manage(ctx, req, []domain.Status{domain.StatusActive, domain.StatusSuspended, domain.StatusInactive}, domain.StatusTerminated, "partner.terminate")
}

func (s *Service) Reactivate(ctx context.Context, req domain.TransitionRequest) (domain.Partner, error) {
	return s.manage(ctx, req, []domain.Status{domain.StatusSuspended, domain.StatusInactive}, domain.StatusActive, "partner.reactivate")
}

func (s *Service) manage(ctx context.Context, req domain.TransitionRequest, from []domain.Status, to domain.Status, action string) (domain.Partner, error) {
	note := strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(note) > s.program.Get().ReviewNoteMaxLength {
		return domain.Partner{}, domain.ErrInvalidReviewNote
	}
	return s.transition(ctx, transitionSpec{
		id:     req.PartnerID,
		from:   from,
		to:     to,
		action: action,
		event:  events.EventPartnerStatusChanged,
		fields: domain.TransitionFields{
			ReviewedBy: strings.TrimSpace(req.ActorID),
			ReviewNote: note,
		},
	})
}

type transitionSpec struct {
	id     snowflake.ID
	from   []domain.Status
	to     domain.Status
	action string
	event  string
	fields domain.TransitionFields
}

// transition applies one conditional status update together with its audit
// row and outbox event.
func (s *Service) transition(ctx context.Context, spec transitionSpec) (domain.Partner, error) {
	if spec.id == 0 {
		return domain.Partner{}, domain.ErrNotFound
	}
	now := s.clock.Now()
	spec.fields.At = now

	var out domain.Partner
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.repo.Transition(ctx, tx, spec.id, spec.from, spec.to, spec.fields)
		if err != nil {
			return err
		}
		partner, err := s.repo.FindByID(ctx, tx, spec.id)
		if err != nil {
			return err
		}
		if partner == nil {
			return domain.ErrNotFound
		}
		if !moved {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, partner.Status, spec.to)
		}

		metadata := map[string]any{"status": string(spec.to)}
		if spec.fields.ReviewNote != "" {
			metadata["note"] = spec.fields.ReviewNote
		}
		if spec.fields.CommissionRate != nil {
			metadata["commission_rate"] = spec.fields.CommissionRate.String()
		}
		if err := s.recordAudit(ctx, tx, spec.action, partner.ID, metadata); err != nil {
			return err
		}

		payload := eventPayload(*partner)
		if spec.fields.ReviewNote != "" {
			payload["review_note"] = spec.fields.ReviewNote
		}
		evt := events.Event{
			Type:          spec.event,
			AggregateType: "partner",
			AggregateID:   partner.ID.String(),
			Payload:       payload,
		}
		if spec.event == events.EventPartnerStatusChanged {
			evt.DedupeKey = fmt.Sprintf("%s:%s:%s:%d", spec.event, partner.ID, spec.to, now.UnixNano())
		}
		if err := s.outbox.PublishTx(ctx, tx, evt); err != nil {
			return err
		}
		out = *partner
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.log.Info("partner transition refused",
				zap.String("partner_id", spec.id.String()),
				zap.String("target", string(spec.to)),
				zap.Error(err),
			)
		}
		return domain.Partner{}, err
	}

	s.metrics.RecordPartnerTransition(ctx, string(spec.to))
	s.log.Info("partner transitioned",
		zap.String("partner_id", out.ID.String()),
		zap.String("status", string(out.Status)),
		zap.String("action", spec.action),
	)
	return out, nil
}

func (s *Service) UpdateRate(ctx context.Context, id snowflake.ID, rate decimal.Decimal) (domain.Partner, error) {
	if !domain.ValidRate(rate) {
		return domain.Partner{}, domain.ErrInvalidRate
	}
	now := s.clock.Now()

	var out domain.Partner
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if before == nil {
			return domain.ErrNotFound
		}
		updated, err := s.repo.UpdateRate(ctx, tx, id, rate, now)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("%w: rate change on %s partner", domain.ErrInvalidTransition, before.Status)
		}
		if err := s.recordAudit(ctx, tx, "partner.rate_update", id, map[string]any{
			"from": before.CommissionRate.String(),
			"to":   rate.String(),
		}); err != nil {
			return err
		}
		after := *before
		after.CommissionRate = rate
		after.UpdatedAt = now
		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			Type:          events.EventPartnerRateChanged,
			AggregateType: "partner",
			AggregateID:   id.String(),
			Payload:       eventPayload(after),
			DedupeKey:     fmt.Sprintf("%s:%s:%d", events.EventPartnerRateChanged, id, now.UnixNano()),
		}); err != nil {
			return err
		}
		out = after
		return nil
	})
	if err != nil {
		return domain.Partner{}, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Partner, error) {
	partner, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Partner{}, err
	}
	if partner == nil {
		return domain.Partner{}, domain.ErrNotFound
	}
	return *partner, nil
}

func (s *Service) GetByAccount(ctx context.Context, accountID string) (domain.Partner, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.Partner{}, domain.ErrNotFound
	}
	partner, err := s.repo.FindByAccount(ctx, s.db, accountID)
	if err != nil {
		return domain.Partner{}, err
	}
	if partner == nil {
		return domain.Partner{}, domain.ErrNotFound
	}
	return *partner, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPartnerRequest) (domain.ListPartnerResponse, error) {
	status, err := domain.ParseStatus(strings.TrimSpace(string(req.Status)))
	if err != nil {
		return domain.ListPartnerResponse{}, err
	}
	cursor, err := pagination.DecodeCursor(strings.TrimSpace(req.PageToken))
	if err != nil {
		return domain.ListPartnerResponse{}, err
	}
	limit := req.Limit()

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Status: status,
		Cursor: cursor,
		Limit:  limit,
	})
	if err != nil {
		return domain.ListPartnerResponse{}, err
	}

	items, info, err := pagination.Trim(items, limit, func(p domain.Partner) pagination.Cursor {
		return pagination.Cursor{ID: int64(p.ID), CreatedAt: p.CreatedAt}
	})
	if err != nil {
		return domain.ListPartnerResponse{}, err
	}
	return domain.ListPartnerResponse{PageInfo: info, Partners: items}, nil
}

func (s *Service) RecomputeStats(ctx context.Context, id snowflake.ID) (domain.Partner, error) {
	var out domain.Partner
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		partner, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if partner == nil {
			return domain.ErrNotFound
		}
		stats, err := s.repo.ComputeStats(ctx, tx, id, money.NormalizeCurrency(s.program.Get().StatsCurrency))
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := s.repo.SetStats(ctx, tx, id, stats, now); err != nil {
			return err
		}
		partner.TotalReferrals = stats.TotalReferrals
		partner.TotalConversions = stats.TotalConversions
		partner.CommissionEarned = stats.CommissionEarned
		partner.CommissionPaid = stats.CommissionPaid
		partner.CommissionReversed = stats.CommissionReversed
		partner.UpdatedAt = now
		out = *partner
		return nil
	})
	if err != nil {
		return domain.Partner{}, err
	}
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, tx *gorm.DB, action string, id snowflake.ID, metadata map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.RecordTx(ctx, tx, auditdomain.Entry{
		Action:     action,
		TargetType: "partner",
		TargetID:   id.String(),
		Metadata:   metadata,
	})
}

func eventPayload(p domain.Partner) map[string]any {
	return map[string]any{
		"partner_id":      p.ID.String(),
		"account_id":      p.AccountID,
		"display_name":    p.DisplayName,
		"email":           p.Email,
		"status":          string(p.Status),
		"commission_rate": p.CommissionRate.String(),
	}
}
