package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	auditrepo "github.com/smallbiznis/referrals/internal/audit/repository"
	auditservice "github.com/smallbiznis/referrals/internal/audit/service"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/events"
	"github.com/smallbiznis/referrals/internal/partner/domain"
	"github.com/smallbiznis/referrals/internal/partner/repository"
	"github.com/smallbiznis/referrals/internal/partner/service"
	"github.com/smallbiznis/referrals/internal/storetest"
	"github.com/smallbiznis/referrals/internal/validation"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   domain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := storetest.Open(t)
	clk := storetest.Clock()
	node := storetest.Node(t)
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	svc := service.New(service.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    repository.Provide(),
		Program: config.NewStaticProgramConfigHolder(config.DefaultProgramConfig()),
		Outbox:  events.NewOutbox(node, clk),
		Audit:   audit,
	})
	return fixture{db: db, clock: clk, svc: svc}
}

func (f fixture) apply(t *testing.T, account string) domain.Partner {
	t.Helper()
	p, err := f.svc.Apply(context.Background(), domain.ApplyRequest{
		AccountID:   account,
		DisplayName: "Acme Media",
		Email:       account + "@example.com",
	})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return p
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.apply(t, "acc_1")
	assert.Equal(t, domain.StatusPending, p.Status)
	assert.True(t, p.CommissionRate.Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, int64(1), storetest.Count(t, f.db, "outbox_events", "event_type = ?", events.EventPartnerApplied))

	_, err := f.svc.Apply(ctx, domain.ApplyRequest{AccountID: "acc_1", DisplayName: "Again", Email: "a@b.co"})
	assert.ErrorIs(t, err, domain.ErrAlreadyApplied)

	_, err = f.svc.Apply(ctx, domain.ApplyRequest{AccountID: "acc_2", DisplayName: " ", Email: "not-an-email"})
	require.ErrorIs(t, err, validation.ErrInvalid)
	fields := validation.Fields(err)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "display_name")
}

func TestApproveWithoutOverrideUsesProgramDefault(t *testing.T) {
	f := newFixture(t)
	p := f.apply(t, "acc_1")

	bad := decimal.NewFromInt(1)
	_, err := f.svc.Approve(context.Background(), domain.ApproveRequest{PartnerID: p.ID, ReviewerID: "admin_1", CommissionRate: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidRate)

	approved, err := f.svc.Approve(context.Background(), domain.ApproveRequest{PartnerID: p.ID, ReviewerID: "admin_1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, approved.Status)
	assert.True(t, approved.CommissionRate.Equal(decimal.RequireFromString("0.2")))
}

func TestApproveFixesRateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.apply(t, "acc_1")

	rate := decimal.RequireFromString("0.6")
	approved, err := f.svc.Approve(ctx, domain.ApproveRequest{PartnerID: p.ID, ReviewerID: "admin_1", CommissionRate: &rate})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, approved.Status)
	assert.True(t, approved.CommissionRate.Equal(rate))
	require.NotNil(t, approved.ApprovedAt)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, "admin_1", *approved.ReviewedBy)

	_, err = f.svc.Approve(ctx, domain.ApproveRequest{PartnerID: p.ID, ReviewerID: "admin_1"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Reject(ctx, domain.RejectRequest{PartnerID: p.ID, ReviewerID: "admin_1", Reason: "changed our mind entirely"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Approve(ctx, domain.ApproveRequest{PartnerID: 12345, ReviewerID: "admin_1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, int64(1), storetest.Count(t, f.db, "outbox_events", "event_type = ?", events.EventPartnerApproved))
	assert.Equal(t, int64(1), storetest.Count(t, f.db, "audit_logs", "action = ?", "partner.approve"))
}

func TestRejectValidatesReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.apply(t, "acc_1")

	for _, reason := range []string{"", "too short", "   padded   ", strings.Repeat("x", 1001)} {
		_, err := f.svc.Reject(ctx, domain.RejectRequest{PartnerID: p.ID, ReviewerID: "admin_1", Reason: reason})
		assert.ErrorIs(t, err, domain.ErrInvalidReviewNote, "reason %q", reason)
	}

	rejected, err := f.svc.Reject(ctx, domain.RejectRequest{PartnerID: p.ID, ReviewerID: "admin_1", Reason: "  audience does not match the program  "})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.ReviewNote)
	assert.Equal(t, "audience does not match the program", *rejected.ReviewNote)
	assert.NotNil(t, rejected.RejectedAt)

	_, err = f.svc.Reject(ctx, domain.RejectRequest{PartnerID: p.ID, ReviewerID: "admin_1", Reason: "second rejection attempt"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Approve(ctx, domain.ApproveRequest{PartnerID: p.ID, ReviewerID: "admin_1"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Reactivate(ctx, domain.TransitionRequest{PartnerID: p.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Reject(ctx, domain.RejectRequest{PartnerID: f.apply(t, "acc_2").ID, ReviewerID: "admin_1", Reason: strings.Repeat("x", 1000)})
	assert.NoError(t, err)
}

func TestLifecycleNeverReturnsToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.apply(t, "acc_1")
	_, err := f.svc.Approve(ctx, domain.ApproveRequest{PartnerID: p.ID, ReviewerID: "admin_1"})
	require.NoError(t, err)

	steps := []struct {
		name string
		run  func(context.Context, domain.TransitionRequest) (domain.Partner, error)
		want domain.Status
	}{
		{"suspend", f.svc.Suspend, domain.StatusSuspended},
		{"reactivate", f.svc.Reactivate, domain.StatusActive},
		{"deactivate", f.svc.Deactivate, domain.StatusInactive},
		{"suspend from inactive", f.svc.Suspend, domain.StatusSuspended},
		{"reactivate again", f.svc.Reactivate, domain.StatusActive},
		{"terminate", f.svc.Terminate, domain.StatusTerminated},
	}
	for _, step := range steps {
		f.clock.Advance(time.Second)
		got, err := step.run(ctx, domain.TransitionRequest{PartnerID: p.ID, ActorID: "admin_1"})
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, got.Status, step.name)
	}

	for _, run := range []func(context.Context, domain.TransitionRequest) (domain.Partner, error){
		f.svc.Reactivate, f.svc.Suspend, f.svc.Deactivate, f.svc.Terminate,
	} {
		_, err := run(ctx, domain.TransitionRequest{PartnerID: p.ID})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}

	// every status change got its own event
	assert.Equal(t, int64(6), storetest.Count(t, f.db, "outbox_events", "event_type = ?", events.EventPartnerStatusChanged))
	assert.Equal(t, int64(0), storetest.Count(t, f.db, "partners", "status = ?", "pending"))
}

func TestUpdateRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.apply(t, "acc_1")

	rate := decimal.RequireFromString("0.35")
	updated, err := f.svc.UpdateRate(ctx, p.ID, rate)
	require.NoError(t, err)
	assert.True(t, updated.CommissionRate.Equal(rate))

	stored, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.CommissionRate.Equal(rate))

	_, err = f.svc.UpdateRate(ctx, p.ID, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidRate)

	_, err = f.svc.Reject(ctx, domain.RejectRequest{PartnerID: p.ID, ReviewerID: "admin_1", Reason: "not a fit for the program"})
	require.NoError(t, err)
	_, err = f.svc.UpdateRate(ctx, p.ID, rate)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGetByAccountAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.apply(t, "acc_a")
	f.apply(t, "acc_b")
	c := f.apply(t, "acc_c")
	_, err := f.svc.Approve(ctx, domain.ApproveRequest{PartnerID: c.ID, ReviewerID: "admin"})
	require.NoError(t, err)

	got, err := f.svc.GetByAccount(ctx, "acc_a")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	_, err = f.svc.GetByAccount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	page, err := f.svc.List(ctx, domain.ListPartnerRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Partners, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, c.ID, page.Partners[0].ID)

	next, err := f.svc.List(ctx, domain.ListPartnerRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, next.Partners, 1)
	assert.Equal(t, a.ID, next.Partners[0].ID)

	active, err := f.svc.List(ctx, domain.ListPartnerRequest{Status: domain.StatusActive})
	require.NoError(t, err)
	require.Len(t, active.Partners, 1)

	_, err = f.svc.List(ctx, domain.ListPartnerRequest{Status: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestRecomputeStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.apply(t, "acc_1")
	now := storetest.Epoch

	require.NoError(t, f.db.Exec(
		`INSERT INTO referral_codes (code, partner_id, created_at) VALUES ('ACME1', ?, ?)`, p.ID, now).Error)
	for i, status := range []string{"signup", "converted", "subscribed"} {
		require.NoError(t, f.db.Exec(
			`INSERT INTO attributions (id, identity_id, partner_id, code, commission_rate, status, signup_at, created_at, updated_at)
			 VALUES (?, ?, ?, 'ACME1', '0.2', ?, ?, ?, ?)`,
			100+i, "user_"+status, p.ID, status, now, now, now).Error)
	}
	for i, row := range []struct {
		status   string
		amount   int64
		currency string
	}{{"accrued", 100, "USD"}, {"paid", 250, "USD"}, {"reversed", 40, "USD"}, {"accrued", 9000, "EUR"}} {
		require.NoError(t, f.db.Exec(
			`INSERT INTO commission_entries (id, partner_id, attribution_id, payment_id, gross_amount, commission_rate,
				commission_amount, currency, status, created_at, updated_at)
			 VALUES (?, ?, 101, ?, 1000, '0.2', ?, ?, ?, ?, ?)`,
			200+i, p.ID, fmt.Sprintf("pay_%d", i), row.amount, row.currency, row.status, now, now).Error)
	}

	got, err := f.svc.RecomputeStats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalReferrals)
	assert.Equal(t, int64(2), got.TotalConversions)
	assert.Equal(t, int64(350), got.CommissionEarned)
	assert.Equal(t, int64(250), got.CommissionPaid)
	assert.Equal(t, int64(40), got.CommissionReversed)

	stored, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, got.CommissionEarned, stored.CommissionEarned)

	_, err = f.svc.RecomputeStats(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
